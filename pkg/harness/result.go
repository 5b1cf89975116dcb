package harness

import (
	"errors"
	"time"

	"github.com/newtron-network/echobench/pkg/relay"
	"github.com/newtron-network/echobench/pkg/trace"
	"github.com/newtron-network/echobench/pkg/util"
)

// Outcome is the final verdict of a run.
type Outcome string

const (
	OutcomePass    Outcome = "PASS"
	OutcomeFail    Outcome = "FAIL"
	OutcomeTimeout Outcome = "TIMEOUT"
	OutcomeError   Outcome = "ERROR"
)

// Result summarizes one run.
type Result struct {
	Name     string
	Outcome  Outcome
	Err      error
	Count    uint64
	Ticks    uint64
	Duration time.Duration

	Rotations  int
	Tolerated  int
	Resyncs    int
	Discarded  int
	LastSource string

	// Units still queued when the run stopped.
	PendingReceived int
	PendingEmitted  int

	Relay *relay.Stats
	Trace []*trace.Event
}

// Reason returns a short failure reason for FAIL and TIMEOUT outcomes.
func (r *Result) Reason() string {
	switch {
	case r.Err == nil:
		return ""
	case errors.Is(r.Err, util.ErrFatalMismatch):
		return "fatal mismatch"
	case errors.Is(r.Err, util.ErrSetupTimeout):
		return "setup timeout"
	case errors.Is(r.Err, util.ErrRunTimeout):
		return "run timeout"
	default:
		return "error"
	}
}

// Passed reports whether the run passed.
func (r *Result) Passed() bool {
	return r.Outcome == OutcomePass
}

// classify maps the error a run ended with to its outcome.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomePass
	case errors.Is(err, util.ErrFatalMismatch), errors.Is(err, util.ErrSetupTimeout):
		return OutcomeFail
	case errors.Is(err, util.ErrRunTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
