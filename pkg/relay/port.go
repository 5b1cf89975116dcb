// Package relay moves frames between the DUT and the external echo
// responder: ARP and UDP frames the DUT sends out are answered by the
// responder and the replies are injected back inbound.
package relay

import (
	"context"
	"io"
	"sync"
)

// Port is one direction of a frame interface.
type Port interface {
	// Recv blocks for the next frame. It returns io.EOF once the port is
	// closed and drained.
	Recv(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame []byte) error
}

// ChanPort is a buffered, channel-backed Port for in-process benches.
type ChanPort struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

// NewChanPort creates a port buffering up to size frames.
func NewChanPort(size int) *ChanPort {
	return &ChanPort{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Recv implements Port.
func (p *ChanPort) Recv(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.ch:
		return f, nil
	default:
	}
	select {
	case f := <-p.ch:
		return f, nil
	case <-p.done:
		select {
		case f := <-p.ch:
			return f, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send implements Port. It blocks while the buffer is full.
func (p *ChanPort) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.ch <- frame:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryRecv returns a pending frame without blocking.
func (p *ChanPort) TryRecv() ([]byte, bool) {
	select {
	case f := <-p.ch:
		return f, true
	default:
		return nil, false
	}
}

// TrySend queues a frame without blocking. It reports false if the buffer
// is full or the port is closed.
func (p *ChanPort) TrySend(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.ch <- frame:
		return true
	default:
		return false
	}
}

// Close stops further sends. Queued frames can still be received.
func (p *ChanPort) Close() {
	p.once.Do(func() { close(p.done) })
}
