package compare

import "fmt"

// Policy controls how mismatches outside a transition window are handled.
type Policy string

const (
	// PolicyStrict fails on the first mismatch outside a transition window.
	PolicyStrict Policy = "strict"
	// PolicyOneShot tolerates a single stray mismatch outside a window and
	// fails on a second consecutive one with no match in between.
	PolicyOneShot Policy = "one-shot-tolerant"
)

// ParsePolicy parses a tolerance policy name. Empty selects strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyOneShot:
		return PolicyOneShot, nil
	default:
		return "", fmt.Errorf("unknown tolerance policy %q (expected %q or %q)", s, PolicyStrict, PolicyOneShot)
	}
}
