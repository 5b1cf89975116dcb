package compare

import (
	"fmt"
	"net/netip"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/util"
)

// Kind classifies one comparator verdict.
type Kind string

const (
	KindMatch     Kind = "match"
	KindTolerated Kind = "tolerated-mismatch"
	KindFatal     Kind = "fatal-mismatch"
	KindResync    Kind = "resync"   // alignment found after Resynchronizing
	KindSeamless  Kind = "seamless" // window closed without any mismatch
)

// Verdict is one entry of the comparator's verdict stream.
type Verdict struct {
	Kind       Kind
	Count      uint64 // check counter after this verdict
	Received   bus.Unit
	Emitted    bus.Unit
	Discarded  int    // strays dropped by a resync
	Transition int    // window this verdict relates to, -1 for none
	Reason     string // why a mismatch was tolerated or fatal
}

// Observer receives every verdict, synchronously, on the comparator's
// goroutine.
type Observer interface {
	Observe(v Verdict)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(v Verdict)

// Observe implements Observer.
func (f ObserverFunc) Observe(v Verdict) {
	f(v)
}

// Reason says why a mismatch was fatal.
type Reason string

const (
	ReasonLockstep  Reason = "lockstep"  // mismatch outside any window
	ReasonTolerance Reason = "tolerance" // second consecutive one-shot mismatch
	ReasonResync    Reason = "resync"    // resync limit exceeded
	ReasonOrigin    Reason = "origin"    // observed origin differs from the commanded one
)

// MismatchError is the fatal verification failure. It carries the two
// unit values and the check counter at the point of failure.
type MismatchError struct {
	Reason    Reason
	Count     uint64
	Received  bus.Unit
	Emitted   bus.Unit
	Discarded int
	Expected  netip.Addr // origin checks only
	Observed  netip.Addr
}

func (e *MismatchError) Error() string {
	switch e.Reason {
	case ReasonOrigin:
		return fmt.Sprintf("compare: origin mismatch at check %d: expected %s, got %s", e.Count, e.Expected, e.Observed)
	case ReasonResync:
		return fmt.Sprintf("compare: no match for %s after discarding %d emitted units (check %d, last emitted %s)",
			e.Received, e.Discarded, e.Count, e.Emitted)
	default:
		return fmt.Sprintf("compare: mismatch at check %d (%s): received %s, emitted %s",
			e.Count, e.Reason, e.Received, e.Emitted)
	}
}

func (e *MismatchError) Unwrap() error {
	return util.ErrFatalMismatch
}
