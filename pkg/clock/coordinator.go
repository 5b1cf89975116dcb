// Package clock provides the discrete time source shared by the harness
// tasks. One tick is one clock edge. Within a tick, members run one at a
// time in the order they joined, so every task observes the signals the
// previous members settled on that edge.
package clock

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTickLimit is returned by Run when the tick budget is exhausted.
	ErrTickLimit = errors.New("clock: tick limit reached")

	// ErrStopped is returned by Member.Next once the coordinator has stopped.
	ErrStopped = errors.New("clock: stopped")
)

// Coordinator advances a global tick and hands each tick to its members in
// join order. A member holds the turn from the moment Next returns until it
// calls Next again or Leave.
type Coordinator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	members []*Member
	tick    uint64
	turn    int
	stopped bool
	running bool
}

// Member is one task's handle on the coordinator.
type Member struct {
	c      *Coordinator
	name   string
	idx    int
	active bool
	held   uint64 // tick whose turn the member currently holds, 0 = none
	done   uint64 // last tick the member finished
}

// New creates a coordinator with no members.
func New() *Coordinator {
	c := &Coordinator{turn: -1}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Join registers a member. Members must join before Run is called.
func (c *Coordinator) Join(name string) *Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		panic("clock: Join after Run")
	}
	m := &Member{c: c, name: name, idx: len(c.members), active: true}
	c.members = append(c.members, m)
	return m
}

// Tick returns the current tick (0 before the first edge).
func (c *Coordinator) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Stop releases every waiting member with ErrStopped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Run drives ticks until ctx is done, every member has left, or maxTicks
// ticks have elapsed (0 = unbounded). It always stops the coordinator
// before returning.
func (c *Coordinator) Run(ctx context.Context, maxTicks uint64) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	defer c.Stop()

	stop := context.AfterFunc(ctx, c.wake)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.stopped {
			return ErrStopped
		}
		if !c.anyActiveLocked() {
			return nil
		}
		if maxTicks > 0 && c.tick >= maxTicks {
			return ErrTickLimit
		}

		c.tick++
		for i, m := range c.members {
			if !m.active {
				continue
			}
			c.turn = i
			c.cond.Broadcast()
			for m.active && m.done < c.tick && !c.stopped && ctx.Err() == nil {
				c.cond.Wait()
			}
			if c.stopped {
				return ErrStopped
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		c.turn = -1
	}
}

func (c *Coordinator) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Coordinator) anyActiveLocked() bool {
	for _, m := range c.members {
		if m.active {
			return true
		}
	}
	return false
}

// Name returns the member's name.
func (m *Member) Name() string {
	return m.name
}

// Next finishes the member's current turn, if it holds one, and blocks
// until the member's turn on the next tick. It returns that tick.
func (m *Member) Next(ctx context.Context) (uint64, error) {
	c := m.c
	stop := context.AfterFunc(ctx, c.wake)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if m.held > 0 {
		m.done = m.held
		m.held = 0
		c.cond.Broadcast()
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if c.stopped {
			return 0, ErrStopped
		}
		if c.turn == m.idx && c.tick > m.done {
			m.held = c.tick
			return c.tick, nil
		}
		c.cond.Wait()
	}
}

// Leave removes the member from the schedule. The coordinator no longer
// waits for it on this or later ticks.
func (m *Member) Leave() {
	c := m.c
	c.mu.Lock()
	m.active = false
	m.held = 0
	c.cond.Broadcast()
	c.mu.Unlock()
}
