package ingest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/clock"
)

func TestSamplerEnqueuesValidSamples(t *testing.T) {
	c := clock.New()
	pair := NewPair()

	received := bus.LineFunc(func(tick uint64) bus.Sample {
		if tick%2 == 0 {
			return bus.Sample{}
		}
		data := make([]byte, 16)
		data[15] = byte(tick)
		return bus.Sample{Valid: true, Data: data, Keep: 0x0001, Origin: 0x0b02a8c0}
	})
	emitted := bus.LineFunc(func(tick uint64) bus.Sample {
		data := make([]byte, 16)
		data[0] = 0xee
		data[1] = byte(tick)
		return bus.Sample{Valid: true, Data: data, Keep: 0xc000}
	})

	s := NewSampler(received, emitted, 16, pair, c.Join("sampler"))

	// Consumer that drains both sides so the sampler's WaitIdle returns.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var gotRx, gotTx []bus.Unit
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for {
			u, err := pair.Pop(ctx, Emitted)
			if err != nil {
				return
			}
			gotTx = append(gotTx, u)
			for pair.Len(Received) > 0 {
				r, _ := pair.Pop(ctx, Received)
				gotRx = append(gotRx, r)
			}
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	if err := c.Run(ctx, 6); !errors.Is(err, clock.ErrTickLimit) {
		t.Fatalf("clock Run() = %v", err)
	}
	if err := <-errc; !errors.Is(err, clock.ErrStopped) {
		t.Errorf("sampler Run() = %v, want ErrStopped", err)
	}
	cancel()
	<-consumed

	if len(gotRx) != 3 {
		t.Fatalf("received units = %d, want 3", len(gotRx))
	}
	for i, u := range gotRx {
		wantTick := uint64(2*i + 1)
		if u.Tick != wantTick || !bytes.Equal(u.Bytes, []byte{byte(wantTick)}) {
			t.Errorf("rx[%d] = tick %d % x", i, u.Tick, u.Bytes)
		}
		if u.Origin != 0x0b02a8c0 {
			t.Errorf("rx[%d].Origin = %#x", i, u.Origin)
		}
		if u.Seq != uint64(i+1) {
			t.Errorf("rx[%d].Seq = %d", i, u.Seq)
		}
	}
	if len(gotTx) != 6 {
		t.Fatalf("emitted units = %d, want 6", len(gotTx))
	}
	if !bytes.Equal(gotTx[2].Bytes, []byte{0xee, 3}) {
		t.Errorf("tx[2] = % x, want ee 03", gotTx[2].Bytes)
	}
	if gotTx[0].Origin != 0 {
		t.Error("emitted units carry no origin")
	}
}
