package relay

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/echobench/pkg/util"
)

// Stats counts what the relay did with each frame.
type Stats struct {
	Relayed   uint64 // answered and injected back
	Forwarded uint64 // passed to the forward port without an answer
	Dropped   uint64 // no reply, or not relayable and no forward port
	Failed    uint64 // responder or port errors
}

// Relay reads frames the DUT sends out, gets replies for ARP and UDP frames
// from the responder, and injects them back in. Other frames go to Forward
// when set.
type Relay struct {
	Out       Port // frames leaving the DUT
	In        Port // replies injected into the DUT
	Forward   Port // optional sink for frames the responder does not handle
	Responder Responder
	// OnError is called for every frame that could not be relayed.
	OnError func(class Class, err error)

	mu    sync.Mutex
	stats Stats
	log   *logrus.Entry
}

// New creates a relay between out and in.
func New(out, in Port, responder Responder) *Relay {
	return &Relay{
		Out:       out,
		In:        in,
		Responder: responder,
		log:       util.WithComponent("relay"),
	}
}

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run relays until Out is closed (nil) or ctx is done. Responder failures
// are counted and logged; they do not stop the relay.
func (r *Relay) Run(ctx context.Context) error {
	for {
		frame, err := r.Out.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.handle(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (r *Relay) handle(ctx context.Context, frame []byte) error {
	class := Classify(frame)
	if class == ClassOther {
		if r.Forward == nil {
			r.count(func(s *Stats) { s.Dropped++ })
			return nil
		}
		if err := r.Forward.Send(ctx, frame); err != nil {
			return r.fail(class, err)
		}
		r.count(func(s *Stats) { s.Forwarded++ })
		return nil
	}

	reply, err := r.Responder.Respond(ctx, frame)
	if err != nil {
		return r.fail(class, err)
	}
	if reply == nil {
		r.count(func(s *Stats) { s.Dropped++ })
		return nil
	}
	if err := r.In.Send(ctx, reply); err != nil {
		return r.fail(class, err)
	}
	r.count(func(s *Stats) { s.Relayed++ })
	r.log.Debugf("Relayed %s frame (%d bytes, reply %d bytes)", class, len(frame), len(reply))
	return nil
}

func (r *Relay) fail(class Class, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.count(func(s *Stats) { s.Failed++ })
	r.log.Warnf("Failed to relay %s frame: %v", class, err)
	if r.OnError != nil {
		r.OnError(class, err)
	}
	return err
}

func (r *Relay) count(fn func(s *Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}
