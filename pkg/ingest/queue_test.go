package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newtron-network/echobench/pkg/bus"
)

func unit(b ...byte) bus.Unit {
	return bus.Unit{Bytes: b}
}

func TestPairFIFOPerSide(t *testing.T) {
	p := NewPair()
	p.Push(Received, unit(1))
	p.Push(Emitted, unit(9))
	p.Push(Received, unit(2))
	p.Push(Received, unit(3))

	ctx := context.Background()
	for i, want := range []byte{1, 2, 3} {
		u, err := p.Pop(ctx, Received)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if u.Bytes[0] != want {
			t.Errorf("pop %d = %v, want %d", i, u.Bytes, want)
		}
		if u.Seq != uint64(i+1) {
			t.Errorf("pop %d Seq = %d, want %d", i, u.Seq, i+1)
		}
	}
	u, err := p.Pop(ctx, Emitted)
	if err != nil || u.Bytes[0] != 9 {
		t.Errorf("emitted pop = %v, %v", u.Bytes, err)
	}

	pushed, popped := p.Stats(Received)
	if pushed != 3 || popped != 3 {
		t.Errorf("Stats(Received) = %d/%d, want 3/3", pushed, popped)
	}
}

func TestPairKeepsEveryUnitAcrossCompaction(t *testing.T) {
	p := NewPair()
	ctx := context.Background()
	const n = 5000
	for i := 0; i < n; i++ {
		p.Push(Emitted, bus.Unit{Bytes: []byte{byte(i >> 8), byte(i)}})
		if i%3 == 2 {
			if _, err := p.Pop(ctx, Emitted); err != nil {
				t.Fatal(err)
			}
		}
	}
	want := n - n/3
	if got := p.Len(Emitted); got != want {
		t.Fatalf("Len = %d, want %d", got, want)
	}
	prev := -1
	for p.Len(Emitted) > 0 {
		u, _ := p.Pop(ctx, Emitted)
		v := int(u.Bytes[0])<<8 | int(u.Bytes[1])
		if v <= prev {
			t.Fatalf("out of order: %d after %d", v, prev)
		}
		prev = v
	}
	if prev != n-1 {
		t.Errorf("last value = %d, want %d", prev, n-1)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	p := NewPair()
	got := make(chan bus.Unit, 1)
	go func() {
		u, err := p.Pop(context.Background(), Received)
		if err == nil {
			got <- u
		}
	}()

	if err := p.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	p.Push(Received, unit(7))

	select {
	case u := <-got:
		if u.Bytes[0] != 7 {
			t.Errorf("got %v, want 7", u.Bytes)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Push")
	}
}

func TestPushToOtherSideKeepsConsumerParked(t *testing.T) {
	p := NewPair()
	go func() { _, _ = p.Pop(context.Background(), Emitted) }()

	if err := p.WaitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Push(Received, unit(1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.WaitIdle(ctx); err != nil {
		t.Fatalf("consumer parked on emitted should stay idle: %v", err)
	}
	p.Close()
}

func TestPopCancelled(t *testing.T) {
	p := NewPair()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Pop(ctx, Received)
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Pop() = %v, want Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop still blocked after cancel")
	}
}

func TestCloseDrainsThenErrClosed(t *testing.T) {
	p := NewPair()
	p.Push(Received, unit(1))
	p.Close()

	if _, err := p.Pop(context.Background(), Received); err != nil {
		t.Fatalf("pending unit should still pop: %v", err)
	}
	if _, err := p.Pop(context.Background(), Received); !errors.Is(err, ErrClosed) {
		t.Errorf("Pop() = %v, want ErrClosed", err)
	}
	if err := p.WaitIdle(context.Background()); err != nil {
		t.Errorf("WaitIdle on closed pair = %v", err)
	}
}

func TestSideString(t *testing.T) {
	if Received.String() != "received" || Emitted.String() != "emitted" {
		t.Errorf("String() = %s/%s", Received, Emitted)
	}
	if Side(5).String() != "unknown" {
		t.Errorf("Side(5).String() = %s", Side(5))
	}
}
