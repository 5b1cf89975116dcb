// Package arbiter implements the source arbiter: it waits for the DUT to
// come up on the first scheduled source, then rotates through the rest of
// the schedule each time the comparator has confirmed a window's worth of
// matches.
package arbiter

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/echobench/pkg/clock"
	"github.com/newtron-network/echobench/pkg/compare"
	"github.com/newtron-network/echobench/pkg/control"
	"github.com/newtron-network/echobench/pkg/source"
	"github.com/newtron-network/echobench/pkg/util"
)

// EventKind classifies arbiter events.
type EventKind string

const (
	EventAnchor   EventKind = "anchor"
	EventRotation EventKind = "rotation"
	EventComplete EventKind = "complete"
)

// Event is reported for the anchor, every rotation, and completion.
type Event struct {
	Kind   EventKind
	Seq    int
	Source source.Source
	Count  uint64
	Tick   uint64
}

// Status is a snapshot of the arbiter's progress through the schedule.
type Status struct {
	Anchored  bool
	Complete  bool
	Seq       int // index of the last commanded source, -1 before the anchor
	Source    source.Source
	Rotations int
	Count     uint64 // last counter value seen
	Target    uint64
	Tick      uint64
}

// Arbiter drives the rotation schedule. It runs as one clock member.
type Arbiter struct {
	schedule    source.Schedule
	window      uint64
	surface     control.Surface
	feed        *compare.Feed
	transitions chan<- compare.Transition
	member      *clock.Member
	notify      func(Event)
	log         *logrus.Entry

	mu     sync.Mutex
	status Status

	last   compare.Progress
	target uint64
	open   int // seq of the last window opened, 0 = none
	tick   uint64
}

// New creates an arbiter. transitions must be buffered for the whole
// schedule; the arbiter never blocks on it. notify may be nil.
func New(schedule source.Schedule, windowSize int, surface control.Surface, feed *compare.Feed,
	transitions chan<- compare.Transition, member *clock.Member, notify func(Event)) (*Arbiter, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if windowSize <= 0 {
		return nil, util.NewValidationError(fmt.Sprintf("window_size must be positive, got %d", windowSize))
	}
	if cap(transitions) < len(schedule) {
		return nil, fmt.Errorf("arbiter: transition channel capacity %d is less than schedule length %d",
			cap(transitions), len(schedule))
	}
	if notify == nil {
		notify = func(Event) {}
	}
	return &Arbiter{
		schedule:    schedule,
		window:      uint64(windowSize),
		surface:     surface,
		feed:        feed,
		transitions: transitions,
		member:      member,
		notify:      notify,
		log:         util.WithComponent("arbiter"),
		status:      Status{Seq: -1},
	}, nil
}

// Status returns a snapshot of the arbiter's progress. Safe to call from
// any goroutine.
func (a *Arbiter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Run executes the schedule. It returns nil once the last source has seen
// a full window of matches, or the error that stopped it.
func (a *Arbiter) Run(ctx context.Context) error {
	defer a.member.Leave()

	anchor := a.schedule[0]
	a.log.Infof("Waiting for the DUT to select %s", anchor)
	for {
		tick, err := a.member.Next(ctx)
		if err != nil {
			return err
		}
		a.tick = tick
		ok, err := control.Selected(ctx, a.surface, anchor)
		if err != nil {
			return fmt.Errorf("arbiter: read control: %w", err)
		}
		if ok {
			break
		}
	}

	a.transitions <- compare.Transition{Seq: 0, Source: anchor}
	a.last = a.feed.Latest(a.last)
	a.target = a.last.Count + a.window
	util.WithSource("arbiter", anchor.Name).Infof("DUT selected %s at tick %d", anchor, a.tick)
	a.update(func(s *Status) {
		s.Anchored = true
		s.Seq = 0
		s.Source = anchor
	})
	a.notify(Event{Kind: EventAnchor, Seq: 0, Source: anchor, Count: a.last.Count, Tick: a.tick})

	for seq := 1; seq < len(a.schedule); seq++ {
		if err := a.await(ctx); err != nil {
			return err
		}
		src := a.schedule[seq]
		a.transitions <- compare.Transition{Seq: seq, Source: src, Open: true}
		if err := control.Command(ctx, a.surface, src); err != nil {
			return fmt.Errorf("arbiter: command %s: %w", src.Name, err)
		}
		a.open = seq
		a.target = a.last.Count + a.window
		util.WithSource("arbiter", src.Name).Infof("Switching to %s at check %d", src, a.last.Count)
		a.update(func(s *Status) {
			s.Seq = seq
			s.Source = src
			s.Rotations++
		})
		a.notify(Event{Kind: EventRotation, Seq: seq, Source: src, Count: a.last.Count, Tick: a.tick})
	}

	if err := a.await(ctx); err != nil {
		return err
	}
	a.log.Infof("Schedule complete at check %d", a.last.Count)
	a.update(func(s *Status) { s.Complete = true })
	a.notify(Event{Kind: EventComplete, Seq: len(a.schedule) - 1, Source: a.schedule[len(a.schedule)-1], Count: a.last.Count, Tick: a.tick})
	return nil
}

// await waits, one tick at a time, until the counter reaches the target
// and the comparator has closed the last window opened. Once a window is
// closed, the comparator's next rotation point (counted from its resync
// alignment) replaces a smaller target.
func (a *Arbiter) await(ctx context.Context) error {
	for {
		a.last = a.feed.Latest(a.last)
		acked := a.last.Closed >= a.open
		if a.open > 0 && acked && a.last.NextRotation > a.target {
			a.target = a.last.NextRotation
		}
		a.update(nil)
		if acked && a.last.Count >= a.target {
			return nil
		}
		tick, err := a.member.Next(ctx)
		if err != nil {
			return err
		}
		a.tick = tick
	}
}

func (a *Arbiter) update(fn func(s *Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fn != nil {
		fn(&a.status)
	}
	a.status.Count = a.last.Count
	a.status.Target = a.target
	a.status.Tick = a.tick
}
