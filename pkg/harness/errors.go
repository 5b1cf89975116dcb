package harness

import (
	"errors"
	"fmt"

	"github.com/newtron-network/echobench/pkg/util"
)

// errScheduleComplete stops the task group once the arbiter finishes.
var errScheduleComplete = errors.New("harness: schedule complete")

// errWallClock is the cancel cause of the run's timeout.
var errWallClock = errors.New("harness: wall-clock timeout")

// Phase says which part of a run a timeout hit.
type Phase string

const (
	PhaseSetup Phase = "setup" // anchor never observed
	PhaseRun   Phase = "run"   // rotation never completed
)

// TimeoutError reports a run that hit its wall-clock or tick bound.
type TimeoutError struct {
	Phase  Phase
	Count  uint64
	Source string // last commanded source, or the awaited anchor
	Ticks  uint64
	Cause  error // errWallClock or clock.ErrTickLimit
}

func (e *TimeoutError) Error() string {
	if e.Phase == PhaseSetup {
		return fmt.Sprintf("harness: setup timeout: DUT never selected %s (%d ticks, %v)", e.Source, e.Ticks, e.Cause)
	}
	return fmt.Sprintf("harness: run timeout at check %d, last source %s (%d ticks, %v)", e.Count, e.Source, e.Ticks, e.Cause)
}

func (e *TimeoutError) Unwrap() []error {
	if e.Phase == PhaseSetup {
		return []error{util.ErrSetupTimeout, e.Cause}
	}
	return []error{util.ErrRunTimeout, e.Cause}
}

// InfraError is a failure of the bench, control surface, or relay rather
// than of the DUT.
type InfraError struct {
	Op  string // "bench", "control", "publish", "relay"
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("harness: %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}
