// Package ingest holds the two frame ingestion queues and the sampling task
// that feeds them from the DUT's bus lines.
package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/newtron-network/echobench/pkg/bus"
)

// ErrClosed is returned by Pop once the pair is closed and the side is empty.
var ErrClosed = errors.New("ingest: queue closed")

// Side identifies one of the two monitored DUT streams.
type Side int

const (
	Received Side = iota // units accepted by the DUT
	Emitted              // units the DUT sent back out
)

func (s Side) String() string {
	switch s {
	case Received:
		return "received"
	case Emitted:
		return "emitted"
	default:
		return "unknown"
	}
}

// Pair is the received/emitted queue pair. Each side is an unbounded FIFO
// with one producer (the sampler) and one consumer (the comparator). The
// pair tracks whether the consumer is parked on an empty side, which lets
// the sampler hold its clock turn until everything it enqueued has been
// consumed as far as possible.
type Pair struct {
	mu     sync.Mutex
	cond   *sync.Cond
	sides  [2]fifo
	parked bool
	on     Side
	closed bool
}

type fifo struct {
	items  []bus.Unit
	head   int
	pushed uint64
	popped uint64
}

func (f *fifo) len() int {
	return len(f.items) - f.head
}

func (f *fifo) push(u bus.Unit) {
	f.items = append(f.items, u)
	f.pushed++
}

func (f *fifo) pop() bus.Unit {
	u := f.items[f.head]
	f.items[f.head] = bus.Unit{}
	f.head++
	f.popped++
	// Compact once the dead prefix dominates.
	if f.head > 1024 && f.head*2 > len(f.items) {
		n := copy(f.items, f.items[f.head:])
		f.items = f.items[:n]
		f.head = 0
	}
	return u
}

// NewPair creates an empty queue pair.
func NewPair() *Pair {
	p := &Pair{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Push appends a unit to one side. It never blocks and never drops.
func (p *Pair) Push(side Side, u bus.Unit) {
	p.mu.Lock()
	s := &p.sides[side]
	s.push(u)
	if u.Seq == 0 {
		s.items[len(s.items)-1].Seq = s.pushed
	}
	if p.parked && p.on == side {
		p.parked = false
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Pop removes the oldest unit from one side, parking until one is
// available, the pair is closed, or ctx is done.
func (p *Pair) Pop(ctx context.Context, side Side) (bus.Unit, error) {
	stop := context.AfterFunc(ctx, p.wake)
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.sides[side]
	for s.len() == 0 {
		if p.closed {
			return bus.Unit{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return bus.Unit{}, err
		}
		p.parked = true
		p.on = side
		p.cond.Broadcast()
		p.cond.Wait()
	}
	p.parked = false
	return s.pop(), nil
}

// WaitIdle blocks until the consumer is parked on an empty side, the pair
// is closed, or ctx is done.
func (p *Pair) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.wake)
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.parked && !p.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return nil
}

// Close marks the pair closed. Pending units stay poppable; Pop returns
// ErrClosed only once a side is empty.
func (p *Pair) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Len returns the number of units waiting on one side.
func (p *Pair) Len(side Side) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sides[side].len()
}

// Stats returns pushed and popped totals for one side.
func (p *Pair) Stats(side Side) (pushed, popped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sides[side].pushed, p.sides[side].popped
}

func (p *Pair) wake() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}
