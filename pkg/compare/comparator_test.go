package compare

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/ingest"
	"github.com/newtron-network/echobench/pkg/source"
	"github.com/newtron-network/echobench/pkg/util"
)

var (
	addrA = netip.MustParseAddr("192.168.2.11")
	addrB = netip.MustParseAddr("192.168.2.12")
	addrC = netip.MustParseAddr("192.168.2.13")
)

// bench wires a comparator to a pre-filled, closed queue pair so Run
// consumes everything and returns.
type bench struct {
	pair     *ingest.Pair
	feed     *Feed
	trans    chan Transition
	verdicts []Verdict
	// hook runs after each verdict is recorded
	hook func(v Verdict, trans chan<- Transition)
}

func newBench() *bench {
	return &bench{
		pair:  ingest.NewPair(),
		feed:  NewFeed(),
		trans: make(chan Transition, 8),
	}
}

func (b *bench) rx(origin uint32, vals ...byte) {
	for _, v := range vals {
		b.pair.Push(ingest.Received, bus.Unit{Bytes: []byte{v}, Origin: origin})
	}
}

func (b *bench) tx(vals ...byte) {
	for _, v := range vals {
		b.pair.Push(ingest.Emitted, bus.Unit{Bytes: []byte{v}})
	}
}

func (b *bench) run(t *testing.T, cfg Config) (*Comparator, error) {
	t.Helper()
	b.pair.Close()
	c, err := New(cfg, b.pair, b.feed, b.trans, ObserverFunc(func(v Verdict) {
		b.verdicts = append(b.verdicts, v)
		if b.hook != nil {
			b.hook(v, b.trans)
		}
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, c.Run(context.Background())
}

func (b *bench) count(kind Kind) int {
	n := 0
	for _, v := range b.verdicts {
		if v.Kind == kind {
			n++
		}
	}
	return n
}

// openAt opens transition seq for src once the counter reaches at.
func openAt(at uint64, seq int, src source.Source) func(Verdict, chan<- Transition) {
	sent := false
	return func(v Verdict, trans chan<- Transition) {
		counted := v.Kind == KindMatch || v.Kind == KindResync
		if !sent && counted && v.Count == at {
			sent = true
			trans <- Transition{Seq: seq, Source: src, Open: true}
		}
	}
}

func TestInitialResyncDiscardsLeadingStrays(t *testing.T) {
	b := newBench()
	b.rx(0, 1, 2, 3, 4, 5)
	b.tx(7, 8, 1, 2, 3, 4, 5)

	c, err := b.run(t, Config{WindowSize: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := c.Progress().Count; got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	if b.verdicts[0].Kind != KindResync || b.verdicts[0].Discarded != 2 {
		t.Errorf("first verdict = %+v, want resync discarding 2", b.verdicts[0])
	}
	if got := c.Progress().NextRotation; got != 4 {
		t.Errorf("NextRotation = %d, want 4", got)
	}
	if c.State() != Steady {
		t.Errorf("State = %s, want steady", c.State())
	}
}

func TestResyncDiscardsExactlyTheStrays(t *testing.T) {
	tests := []struct {
		name   string
		strays []byte
	}{
		{"none", nil},
		{"one", []byte{9}},
		{"four", []byte{9, 8, 7, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench()
			b.rx(0, 1, 2)
			b.tx(tt.strays...)
			b.tx(1, 2)
			c, err := b.run(t, Config{WindowSize: 1})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := b.verdicts[0].Discarded; got != len(tt.strays) {
				t.Errorf("Discarded = %d, want %d", got, len(tt.strays))
			}
			if c.Progress().Count != 2 {
				t.Errorf("Count = %d, want 2", c.Progress().Count)
			}
			if _, popped := b.pair.Stats(ingest.Emitted); popped != uint64(len(tt.strays)+2) {
				t.Errorf("emitted popped = %d, want %d", popped, len(tt.strays)+2)
			}
		})
	}
}

func TestStrictMismatchIsFatal(t *testing.T) {
	b := newBench()
	b.rx(0, 1, 2, 3)
	b.tx(1, 9, 3)

	c, err := b.run(t, Config{WindowSize: 5, Policy: PolicyStrict})
	if !errors.Is(err, util.ErrFatalMismatch) {
		t.Fatalf("Run = %v, want ErrFatalMismatch", err)
	}
	var me *MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("Run error %T is not *MismatchError", err)
	}
	if me.Reason != ReasonLockstep || me.Count != 1 {
		t.Errorf("mismatch = %+v, want lockstep at count 1", me)
	}
	if me.Received.Hex() != "0x2" || me.Emitted.Hex() != "0x9" {
		t.Errorf("units = %s/%s, want 0x2/0x9", me.Received, me.Emitted)
	}
	if c.Progress().Count != 1 {
		t.Errorf("counter moved after fatal mismatch: %d", c.Progress().Count)
	}
	if b.count(KindFatal) != 1 {
		t.Errorf("fatal verdicts = %d, want 1", b.count(KindFatal))
	}
}

func TestOneShotTolerance(t *testing.T) {
	t.Run("single stray tolerated", func(t *testing.T) {
		b := newBench()
		b.rx(0, 1, 2, 3, 4)
		b.tx(1, 9, 3, 4)
		c, err := b.run(t, Config{WindowSize: 5, Policy: PolicyOneShot})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		// The tolerated comparison counts once, like any resolved one.
		if c.Progress().Count != 4 {
			t.Errorf("Count = %d, want 4", c.Progress().Count)
		}
		if b.count(KindTolerated) != 1 {
			t.Errorf("tolerated = %d, want 1", b.count(KindTolerated))
		}
		for _, v := range b.verdicts {
			if v.Kind == KindTolerated && v.Count != 2 {
				t.Errorf("tolerated at count %d, want 2", v.Count)
			}
		}
	})

	t.Run("two consecutive fail", func(t *testing.T) {
		b := newBench()
		b.rx(0, 1, 2, 3)
		b.tx(1, 8, 9)
		_, err := b.run(t, Config{WindowSize: 5, Policy: PolicyOneShot})
		var me *MismatchError
		if !errors.As(err, &me) || me.Reason != ReasonTolerance {
			t.Fatalf("Run = %v, want tolerance mismatch", err)
		}
		if me.Count != 2 {
			t.Errorf("Count = %d, want 2", me.Count)
		}
	})

	t.Run("match resets the streak", func(t *testing.T) {
		b := newBench()
		b.rx(0, 1, 2, 3, 4, 5)
		b.tx(1, 8, 3, 9, 5)
		c, err := b.run(t, Config{WindowSize: 5, Policy: PolicyOneShot})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if b.count(KindTolerated) != 2 {
			t.Errorf("tolerated = %d, want 2", b.count(KindTolerated))
		}
		if c.Progress().Count != 5 {
			t.Errorf("Count = %d, want 5", c.Progress().Count)
		}
	})
}

func TestMismatchInsideWindowIsTolerated(t *testing.T) {
	b := newBench()
	b.rx(0, 1, 2, 3, 4, 5, 6)
	b.tx(1, 2, 3, 9, 8, 5, 6)
	b.hook = openAt(3, 1, source.Address("server2", addrB))

	c, err := b.run(t, Config{WindowSize: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	p := c.Progress()
	// rx 4 is discarded with tx 9, tx 8 is a stray, then 5 and 6 match.
	if p.Count != 5 {
		t.Errorf("Count = %d, want 5", p.Count)
	}
	if p.Closed != 1 {
		t.Errorf("Closed = %d, want 1", p.Closed)
	}
	if p.NextRotation != 14 {
		t.Errorf("NextRotation = %d, want 14", p.NextRotation)
	}
	if b.count(KindTolerated) != 1 {
		t.Errorf("tolerated = %d, want 1", b.count(KindTolerated))
	}

	var resync Verdict
	for _, v := range b.verdicts {
		if v.Kind == KindResync && v.Transition == 1 {
			resync = v
		}
	}
	if resync.Discarded != 1 || resync.Count != 4 {
		t.Errorf("closing resync = %+v, want 1 discarded at count 4", resync)
	}
}

func TestResyncLimit(t *testing.T) {
	tests := []struct {
		limit   int
		wantErr bool
	}{
		{limit: 0},
		{limit: 3},
		{limit: 2, wantErr: true},
	}
	for _, tt := range tests {
		b := newBench()
		b.rx(0, 1)
		b.tx(7, 8, 9, 1)
		_, err := b.run(t, Config{WindowSize: 5, ResyncLimit: tt.limit})
		if !tt.wantErr {
			if err != nil {
				t.Errorf("limit %d: Run = %v", tt.limit, err)
			}
			continue
		}
		var me *MismatchError
		if !errors.As(err, &me) || me.Reason != ReasonResync {
			t.Fatalf("limit %d: Run = %v, want resync mismatch", tt.limit, err)
		}
		if me.Discarded != 2 {
			t.Errorf("limit %d: Discarded = %d, want 2", tt.limit, me.Discarded)
		}
	}
}

func TestResyncInsideWindowIsBoundedByWindowSize(t *testing.T) {
	b := newBench()
	b.rx(0, 1, 2, 3, 4, 5, 6, 7, 8)
	b.tx(1, 2, 91, 92, 93, 94, 95, 96)
	b.hook = openAt(2, 1, source.Address("server2", addrB))

	c, err := b.run(t, Config{WindowSize: 3})
	var me *MismatchError
	if !errors.As(err, &me) || me.Reason != ReasonResync {
		t.Fatalf("Run = %v, want resync mismatch", err)
	}
	// 91 is tolerated against rx 3, then 92..94 are discarded looking for 4.
	if me.Discarded != 3 {
		t.Errorf("Discarded = %d, want 3", me.Discarded)
	}
	if me.Count != 2 || c.Progress().Count != 2 {
		t.Errorf("Count = %d/%d, want it frozen at 2", me.Count, c.Progress().Count)
	}
	if b.count(KindTolerated) != 1 || b.count(KindFatal) != 1 {
		t.Errorf("tolerated/fatal = %d/%d, want 1/1", b.count(KindTolerated), b.count(KindFatal))
	}
}

func TestWindowSettlesWithoutMismatch(t *testing.T) {
	b := newBench()
	b.rx(0, 1, 2, 3, 4, 5)
	b.tx(1, 2, 3, 4, 5)
	b.hook = openAt(1, 1, source.Address("server2", addrB))

	c, err := b.run(t, Config{WindowSize: 10, SettleMatches: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.Progress().Closed != 1 {
		t.Errorf("Closed = %d, want 1", c.Progress().Closed)
	}
	if b.count(KindSeamless) != 1 {
		t.Fatalf("seamless = %d, want 1", b.count(KindSeamless))
	}
	for _, v := range b.verdicts {
		if v.Kind == KindSeamless && v.Count != 3 {
			t.Errorf("window settled at %d, want 3", v.Count)
		}
	}
}

func TestOriginTracking(t *testing.T) {
	s1 := source.Address("server1", addrA)
	s2 := source.Address("server2", addrB)
	a, bb, cc := util.EncodeAddr(addrA), util.EncodeAddr(addrB), util.EncodeAddr(addrC)

	t.Run("expected change", func(t *testing.T) {
		b := newBench()
		b.trans <- Transition{Seq: 0, Source: s1}
		b.rx(a, 1, 2, 3)
		b.rx(bb, 4, 5)
		b.tx(1, 2, 3, 4, 5)
		b.hook = openAt(3, 1, s2)

		c, err := b.run(t, Config{WindowSize: 5, TrackOrigin: true})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if c.Progress().Count != 5 || c.Progress().Closed != 1 {
			t.Errorf("progress = %+v, want count 5 closed 1", c.Progress())
		}
		if b.count(KindResync) != 2 {
			t.Errorf("resyncs = %d, want 2", b.count(KindResync))
		}
	})

	t.Run("wrong origin", func(t *testing.T) {
		b := newBench()
		b.trans <- Transition{Seq: 0, Source: s1}
		b.rx(a, 1, 2, 3)
		b.rx(cc, 4, 5)
		b.tx(1, 2, 3, 4, 5)
		b.hook = openAt(3, 1, s2)

		_, err := b.run(t, Config{WindowSize: 5, TrackOrigin: true})
		var me *MismatchError
		if !errors.As(err, &me) || me.Reason != ReasonOrigin {
			t.Fatalf("Run = %v, want origin mismatch", err)
		}
		if me.Expected != addrB || me.Observed != addrC {
			t.Errorf("origins = %s/%s, want %s/%s", me.Expected, me.Observed, addrB, addrC)
		}
	})

	t.Run("repeated origin expects no change", func(t *testing.T) {
		b := newBench()
		b.trans <- Transition{Seq: 0, Source: s1}
		b.rx(a, 1, 2, 3, 4)
		b.tx(1, 2, 3, 4)
		b.hook = openAt(2, 1, source.Class("class1", 1, addrA))

		c, err := b.run(t, Config{WindowSize: 5, TrackOrigin: true, SettleMatches: 1})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if c.Progress().Count != 4 {
			t.Errorf("Count = %d, want 4", c.Progress().Count)
		}
	})
}

func TestRunStopsOnContextCancel(t *testing.T) {
	pair := ingest.NewPair()
	c, err := New(Config{WindowSize: 1}, pair, NewFeed(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{WindowSize: 50}, false},
		{"one-shot", Config{WindowSize: 1, Policy: PolicyOneShot}, false},
		{"zero window", Config{}, true},
		{"negative window", Config{WindowSize: -1}, true},
		{"unknown policy", Config{WindowSize: 5, Policy: "lenient"}, true},
		{"negative limit", Config{WindowSize: 5, ResyncLimit: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error %v does not wrap ErrValidationFailed", err)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyStrict, "strict": PolicyStrict, "one-shot-tolerant": PolicyOneShot} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Error("ParsePolicy(sometimes) should fail")
	}
}

func TestFeedKeepsLatest(t *testing.T) {
	f := NewFeed()
	prev := Progress{Count: 1}
	if got := f.Latest(prev); got != prev {
		t.Errorf("Latest on empty feed = %+v, want %+v", got, prev)
	}
	f.Publish(Progress{Count: 2})
	f.Publish(Progress{Count: 3, Closed: 1})
	if got := f.Latest(prev); got.Count != 3 || got.Closed != 1 {
		t.Errorf("Latest = %+v, want count 3 closed 1", got)
	}
	if got := f.Latest(Progress{Count: 3}); got.Count != 3 {
		t.Errorf("Latest after read = %+v", got)
	}
}
