// Package trace records the run trace: the anchor, every rotation, every
// tolerated or fatal mismatch, and the run's end.
package trace

import (
	"time"
)

// Kind categorizes trace events
type Kind string

const (
	KindAnchor     Kind = "anchor"
	KindRotation   Kind = "rotation"
	KindTolerated  Kind = "tolerated-mismatch"
	KindResync     Kind = "resync"
	KindSeamless   Kind = "seamless"
	KindFatal      Kind = "fatal-mismatch"
	KindTimeout    Kind = "timeout"
	KindComplete   Kind = "complete"
	KindRelayError Kind = "relay-error"
)

// Severity indicates the importance of a trace event
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one trace entry
type Event struct {
	ID         uint64    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Run        string    `json:"run"`
	Kind       Kind      `json:"kind"`
	Severity   Severity  `json:"severity"`
	Tick       uint64    `json:"tick"`
	Count      uint64    `json:"count"`
	Transition int       `json:"transition"`
	Source     string    `json:"source,omitempty"`
	Received   string    `json:"received,omitempty"`
	Emitted    string    `json:"emitted,omitempty"`
	Discarded  int       `json:"discarded,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Filter defines criteria for querying trace events
type Filter struct {
	Kinds     []Kind
	Source    string
	Severity  Severity
	MinCount  uint64
	MaxCount  uint64 // 0 = unbounded
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// NewEvent creates a trace event of the given kind for a run
func NewEvent(run string, kind Kind) *Event {
	return &Event{
		Timestamp:  time.Now(),
		Run:        run,
		Kind:       kind,
		Severity:   severityOf(kind),
		Transition: -1,
	}
}

func severityOf(kind Kind) Severity {
	switch kind {
	case KindFatal, KindRelayError:
		return SeverityError
	case KindTolerated, KindTimeout:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// WithTick sets the tick the event happened on
func (e *Event) WithTick(tick uint64) *Event {
	e.Tick = tick
	return e
}

// WithCount sets the check counter at the event
func (e *Event) WithCount(count uint64) *Event {
	e.Count = count
	return e
}

// WithTransition sets the transition sequence number
func (e *Event) WithTransition(seq int) *Event {
	e.Transition = seq
	return e
}

// WithSource sets the source name
func (e *Event) WithSource(name string) *Event {
	e.Source = name
	return e
}

// WithUnits sets the received and emitted unit values
func (e *Event) WithUnits(received, emitted string) *Event {
	e.Received = received
	e.Emitted = emitted
	return e
}

// WithDiscarded sets the number of strays a resync dropped
func (e *Event) WithDiscarded(n int) *Event {
	e.Discarded = n
	return e
}

// WithMessage sets a free-form message
func (e *Event) WithMessage(msg string) *Event {
	e.Message = msg
	return e
}

// WithError sets the message from err and raises the severity to error
func (e *Event) WithError(err error) *Event {
	e.Severity = SeverityError
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

func (f Filter) matches(e *Event) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if e.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if e.Count < f.MinCount {
		return false
	}
	if f.MaxCount > 0 && e.Count > f.MaxCount {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
