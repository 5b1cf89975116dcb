package ingest

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/clock"
	"github.com/newtron-network/echobench/pkg/util"
)

// Sampler reads both bus lines once per tick and enqueues a unit for every
// side whose valid signal is asserted.
type Sampler struct {
	Received bus.Line
	Emitted  bus.Line
	Width    int

	pair  *Pair
	clock *clock.Member
	log   *logrus.Entry
}

// NewSampler creates a sampler feeding pair on the member's clock turns.
func NewSampler(received, emitted bus.Line, width int, pair *Pair, member *clock.Member) *Sampler {
	return &Sampler{
		Received: received,
		Emitted:  emitted,
		Width:    width,
		pair:     pair,
		clock:    member,
		log:      util.WithComponent("sampler"),
	}
}

// Run samples until ctx is done or the clock stops. After enqueueing, it
// keeps its turn until the consumer has drained what it can, so the
// comparator's view of tick t is complete before later members run.
func (s *Sampler) Run(ctx context.Context) error {
	defer s.clock.Leave()

	var rx, tx uint64
	for {
		tick, err := s.clock.Next(ctx)
		if err != nil {
			return err
		}

		if smp := s.Received.Sample(tick); smp.Valid {
			u := bus.Extract(smp.Data, smp.Keep, s.Width)
			u.Origin = smp.Origin
			u.Tick = tick
			rx++
			u.Seq = rx
			s.pair.Push(Received, u)
		}
		if smp := s.Emitted.Sample(tick); smp.Valid {
			u := bus.Extract(smp.Data, smp.Keep, s.Width)
			u.Tick = tick
			tx++
			u.Seq = tx
			s.pair.Push(Emitted, u)
		}

		if err := s.pair.WaitIdle(ctx); err != nil {
			return err
		}
		if tick%10000 == 0 {
			s.log.Debugf("tick %d: %d received, %d emitted", tick, rx, tx)
		}
	}
}
