// Package compare implements the stream comparator: it aligns the received
// and emitted unit streams, counts confirmed matches, and tolerates the
// transient disagreement a source switch causes while a transition window
// is open.
package compare

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/ingest"
	"github.com/newtron-network/echobench/pkg/util"
)

// State is the comparator's alignment state.
type State int

const (
	Resynchronizing State = iota
	Steady
)

func (s State) String() string {
	if s == Steady {
		return "steady"
	}
	return "resynchronizing"
}

// Config parameterizes a Comparator.
type Config struct {
	WindowSize int
	Policy     Policy
	// ResyncLimit bounds the strays one resync may discard. 0 bounds a
	// resync inside a transition window by WindowSize and leaves the
	// initial alignment unbounded.
	ResyncLimit int
	// SettleMatches closes an open window after that many consecutive
	// matches without a mismatch. 0 selects WindowSize.
	SettleMatches int
	// TrackOrigin checks received-unit origins against commanded sources.
	TrackOrigin bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(c.WindowSize > 0, fmt.Sprintf("window_size must be positive, got %d", c.WindowSize))
	v.Add(c.ResyncLimit >= 0, fmt.Sprintf("resync_limit must not be negative, got %d", c.ResyncLimit))
	v.Add(c.SettleMatches >= 0, fmt.Sprintf("settle_matches must not be negative, got %d", c.SettleMatches))
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		v.AddError(err.Error())
	}
	return v.Build()
}

// Comparator consumes both ingestion queues and produces the check counter
// and the verdict stream. It owns the counter; the arbiter sees it only
// through the Feed.
type Comparator struct {
	cfg         Config
	pair        *ingest.Pair
	feed        *Feed
	transitions <-chan Transition
	observer    Observer
	log         *logrus.Entry

	state   State
	count   uint64
	next    uint64
	closed  int
	window  *Transition
	settled int
	streak  int // consecutive one-shot mismatches

	// origin tracking
	observed     uint32
	lastExpected uint32
	expected     []Transition
	unverified   []bus.Unit
}

// New creates a comparator reading from pair, publishing progress on feed
// and receiving transition events on transitions. observer may be nil.
func New(cfg Config, pair *ingest.Pair, feed *Feed, transitions <-chan Transition, observer Observer) (*Comparator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Policy, _ = ParsePolicy(string(cfg.Policy))
	if cfg.SettleMatches == 0 {
		cfg.SettleMatches = cfg.WindowSize
	}
	if observer == nil {
		observer = ObserverFunc(func(Verdict) {})
	}
	return &Comparator{
		cfg:         cfg,
		pair:        pair,
		feed:        feed,
		transitions: transitions,
		observer:    observer,
		log:         util.WithComponent("comparator"),
		state:       Resynchronizing,
	}, nil
}

// State returns the current alignment state. Only meaningful from the
// comparator's goroutine or after Run returns.
func (c *Comparator) State() State {
	return c.state
}

// Progress returns the last published snapshot. Only meaningful after Run
// returns.
func (c *Comparator) Progress() Progress {
	return Progress{Count: c.count, NextRotation: c.next, Closed: c.closed}
}

// Run compares until the pair is closed (nil), ctx is done (ctx error), or
// a fatal mismatch occurs (*MismatchError).
func (c *Comparator) Run(ctx context.Context) error {
	for {
		rx, err := c.pair.Pop(ctx, ingest.Received)
		if err != nil {
			return stopped(err)
		}
		if err := c.drain(); err != nil {
			return err
		}
		if c.cfg.TrackOrigin {
			if err := c.checkOrigin(rx); err != nil {
				return err
			}
		}

		if c.state == Resynchronizing {
			if err := c.resync(ctx, rx); err != nil {
				return err
			}
			continue
		}

		tx, err := c.pair.Pop(ctx, ingest.Emitted)
		if err != nil {
			return stopped(err)
		}
		if err := c.drain(); err != nil {
			return err
		}
		if err := c.compare(rx, tx); err != nil {
			return err
		}
	}
}

func stopped(err error) error {
	if errors.Is(err, ingest.ErrClosed) {
		return nil
	}
	return err
}

// resync holds rx and slides the emitted stream until a unit equals it.
func (c *Comparator) resync(ctx context.Context, rx bus.Unit) error {
	tx, err := c.pair.Pop(ctx, ingest.Emitted)
	if err != nil {
		return stopped(err)
	}
	limit := c.resyncLimit()
	discarded := 0
	for !rx.Equal(tx) {
		discarded++
		c.log.Debugf("Looking for a match: received %s, emitted %s", rx, tx)
		if limit > 0 && discarded > limit {
			return c.fatal(&MismatchError{
				Reason:    ReasonResync,
				Count:     c.count,
				Received:  rx,
				Emitted:   tx,
				Discarded: discarded - 1,
			})
		}
		if tx, err = c.pair.Pop(ctx, ingest.Emitted); err != nil {
			return stopped(err)
		}
	}
	if err := c.drain(); err != nil {
		return err
	}

	c.state = Steady
	c.count++
	c.next = c.count + uint64(c.cfg.WindowSize)
	c.streak = 0
	seq := c.closeWindow()
	c.feed.Publish(c.Progress())

	if discarded > 0 || seq >= 0 {
		c.log.Infof("Resynchronized at check %d after discarding %d unit(s)", c.count, discarded)
	} else {
		c.log.Debugf("Aligned at check %d", c.count)
	}
	c.observer.Observe(Verdict{
		Kind:       KindResync,
		Count:      c.count,
		Received:   rx,
		Emitted:    tx,
		Discarded:  discarded,
		Transition: seq,
	})
	return nil
}

// resyncLimit returns the strays the current resync may discard, 0 for no
// bound.
func (c *Comparator) resyncLimit() int {
	if c.cfg.ResyncLimit > 0 {
		return c.cfg.ResyncLimit
	}
	if c.window != nil {
		return c.cfg.WindowSize
	}
	return 0
}

func (c *Comparator) compare(rx, tx bus.Unit) error {
	if rx.Equal(tx) {
		c.count++
		c.streak = 0
		c.log.Debugf("Match #%d: %s", c.count, rx)
		c.observer.Observe(Verdict{Kind: KindMatch, Count: c.count, Received: rx, Emitted: tx, Transition: -1})
		if c.window != nil {
			c.settled++
			if c.settled >= c.cfg.SettleMatches {
				seq := c.closeWindow()
				c.log.Infof("Transition %d settled without a mismatch at check %d", seq, c.count)
				c.observer.Observe(Verdict{Kind: KindSeamless, Count: c.count, Transition: seq})
			}
		}
		c.feed.Publish(c.Progress())
		return nil
	}

	if c.window != nil {
		c.log.Infof("Mismatch during transition %d at check %d: received %s, emitted %s",
			c.window.Seq, c.count, rx, tx)
		c.observer.Observe(Verdict{
			Kind:       KindTolerated,
			Count:      c.count,
			Received:   rx,
			Emitted:    tx,
			Transition: c.window.Seq,
			Reason:     "transition",
		})
		c.state = Resynchronizing
		return nil
	}

	if c.cfg.Policy == PolicyOneShot && c.streak == 0 {
		c.streak = 1
		c.count++
		c.log.Warnf("Tolerating stray mismatch at check %d: received %s, emitted %s", c.count, rx, tx)
		c.observer.Observe(Verdict{
			Kind:       KindTolerated,
			Count:      c.count,
			Received:   rx,
			Emitted:    tx,
			Transition: -1,
			Reason:     "one-shot",
		})
		c.feed.Publish(c.Progress())
		return nil
	}

	reason := ReasonLockstep
	if c.cfg.Policy == PolicyOneShot {
		reason = ReasonTolerance
	}
	return c.fatal(&MismatchError{Reason: reason, Count: c.count, Received: rx, Emitted: tx})
}

func (c *Comparator) fatal(err *MismatchError) error {
	c.log.Error(err.Error())
	c.observer.Observe(Verdict{
		Kind:       KindFatal,
		Count:      err.Count,
		Received:   err.Received,
		Emitted:    err.Emitted,
		Discarded:  err.Discarded,
		Transition: -1,
		Reason:     string(err.Reason),
	})
	return err
}

// closeWindow closes the open window, if any, and returns its sequence
// number or -1.
func (c *Comparator) closeWindow() int {
	if c.window == nil {
		return -1
	}
	seq := c.window.Seq
	c.closed = seq
	c.window = nil
	c.settled = 0
	return seq
}

// drain applies every pending transition event without blocking.
func (c *Comparator) drain() error {
	for {
		select {
		case tr, ok := <-c.transitions:
			if !ok {
				c.transitions = nil
				return c.verifyOrigins()
			}
			c.apply(tr)
		default:
			return c.verifyOrigins()
		}
	}
}

func (c *Comparator) apply(tr Transition) {
	if tr.Open {
		if c.window != nil {
			c.log.Warnf("Transition %d opened while transition %d is still open", tr.Seq, c.window.Seq)
		}
		t := tr
		c.window = &t
		c.settled = 0
		c.log.Debugf("Transition window %d open for %s", tr.Seq, tr.Source)
	}
	if !c.cfg.TrackOrigin {
		return
	}
	origin := tr.Source.OriginValue()
	if origin == c.lastExpected {
		return
	}
	c.lastExpected = origin
	c.expected = append(c.expected, tr)
}

// checkOrigin notes a change in the observed origin of received data. A
// change always forces a resync on this unit; the new origin is verified
// against the commanded schedule once the matching transition is known.
func (c *Comparator) checkOrigin(rx bus.Unit) error {
	if rx.Origin == 0 || rx.Origin == c.observed {
		return nil
	}
	c.observed = rx.Origin
	c.unverified = append(c.unverified, rx)
	c.state = Resynchronizing
	c.log.Infof("Data is now coming from %s", util.DecodeAddr(rx.Origin))
	return c.verifyOrigins()
}

func (c *Comparator) verifyOrigins() error {
	for len(c.unverified) > 0 && len(c.expected) > 0 {
		rx, exp := c.unverified[0], c.expected[0]
		c.unverified, c.expected = c.unverified[1:], c.expected[1:]
		if rx.Origin != exp.Source.OriginValue() {
			return c.fatal(&MismatchError{
				Reason:   ReasonOrigin,
				Count:    c.count,
				Received: rx,
				Expected: exp.Source.Origin,
				Observed: util.DecodeAddr(rx.Origin),
			})
		}
		c.log.Infof("Checking data from %s", exp.Source)
	}
	return nil
}
