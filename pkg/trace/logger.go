package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger defines the interface for trace backends
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// Recorder keeps the trace of one run in memory
type Recorder struct {
	mu     sync.RWMutex
	events []*Event
	nextID uint64
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Log appends an event, assigning its ID
func (r *Recorder) Log(event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	event.ID = r.nextID
	r.events = append(r.events, event)
	return nil
}

// Query returns events matching the filter, in logging order
func (r *Recorder) Query(filter Filter) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []*Event
	for _, e := range r.events {
		if filter.matches(e) {
			events = append(events, e)
		}
	}

	// Apply offset and limit
	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			events = nil
		} else {
			events = events[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}
	return events, nil
}

// Len returns the number of recorded events
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Close implements Logger
func (r *Recorder) Close() error {
	return nil
}

// StreamLogger records events in memory and also writes each one as a JSON
// line to w
type StreamLogger struct {
	*Recorder
	mu      sync.Mutex
	encoder *json.Encoder
	closer  io.Closer
}

// NewStreamLogger creates a stream logger. If w is an io.Closer other than
// the process's standard streams, Close closes it.
func NewStreamLogger(w io.Writer) *StreamLogger {
	l := &StreamLogger{
		Recorder: NewRecorder(),
		encoder:  json.NewEncoder(w),
	}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		l.closer = c
	}
	return l
}

// Log records the event and writes it to the stream
func (l *StreamLogger) Log(event *Event) error {
	if err := l.Recorder.Log(event); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("trace: writing event %d: %w", event.ID, err)
	}
	return nil
}

// Close closes the underlying writer, if it is closable
func (l *StreamLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
