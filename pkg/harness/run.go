package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/echobench/pkg/arbiter"
	"github.com/newtron-network/echobench/pkg/clock"
	"github.com/newtron-network/echobench/pkg/compare"
	"github.com/newtron-network/echobench/pkg/ingest"
	"github.com/newtron-network/echobench/pkg/relay"
	"github.com/newtron-network/echobench/pkg/source"
	"github.com/newtron-network/echobench/pkg/trace"
	"github.com/newtron-network/echobench/pkg/util"
)

// Runner executes one validation run against a bench.
type Runner struct {
	Config    *Config
	Bench     Bench
	Responder relay.Responder // optional; used when the bench has frame ports
	Reporter  Reporter        // optional
	Trace     trace.Logger    // optional; an in-memory recorder by default
}

// NewRunner creates a runner from a built setup.
func NewRunner(cfg *Config, s *Setup, reporters ...Reporter) *Runner {
	return &Runner{
		Config:    cfg,
		Bench:     s.Bench,
		Responder: s.Responder,
		Reporter:  MultiReporter(append(reporters, s.Reporters...)),
	}
}

// Run runs the schedule to a terminal condition. The returned error is
// non-nil only when the run could not be started; every terminal
// condition of a started run, including infrastructure failures, is
// reported through Result.Outcome and Result.Err.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.Config
	if cfg == nil {
		return nil, &util.ConfigError{Err: errors.New("no configuration")}
	}
	if r.Bench == nil {
		return nil, errors.New("harness: no bench")
	}
	schedule, err := cfg.ResolveSchedule()
	if err != nil {
		return nil, &util.ConfigError{Err: err}
	}
	log := util.WithField("run", cfg.Name)

	tr := r.Trace
	if tr == nil {
		tr = trace.NewRecorder()
	}
	rep := r.Reporter
	if rep == nil {
		rep = MultiReporter(nil)
	}

	// Join order is the order members act within a tick: the bench settles
	// its lines, the sampler latches them, the arbiter reads the counter.
	clk := clock.New()
	stepper, _ := r.Bench.(Stepper)
	var stepMember *clock.Member
	if stepper != nil {
		stepMember = clk.Join("bench")
	}
	pair := ingest.NewPair()
	feed := compare.NewFeed()
	transitions := make(chan compare.Transition, len(schedule))
	sampler := ingest.NewSampler(r.Bench.Received(), r.Bench.Emitted(), cfg.UnitWidth, pair, clk.Join("sampler"))

	st := &runState{
		name:     cfg.Name,
		schedule: schedule,
		trace:    tr,
		reporter: rep,
		clock:    clk,
		res:      &Result{Name: cfg.Name},
	}
	cmp, err := compare.New(cfg.CompareConfig(), pair, feed, transitions, compare.ObserverFunc(st.verdict))
	if err != nil {
		return nil, &util.ConfigError{Err: err}
	}
	arb, err := arbiter.New(schedule, cfg.Window(), r.Bench.Control(), feed, transitions, clk.Join("arbiter"), st.arbiterEvent)
	if err != nil {
		return nil, &util.ConfigError{Err: err}
	}

	var rl *relay.Relay
	if fb, ok := r.Bench.(FrameBench); ok && r.Responder != nil {
		if out, in := fb.FramePorts(); out != nil && in != nil {
			rl = relay.New(out, in, r.Responder)
			rl.OnError = st.relayError
		}
	}

	log.Infof("Starting run: %d sources, window %d, %s tolerance", len(schedule), cfg.Window(), cfg.Tolerance)
	rep.RunStart(cfg, schedule)
	start := time.Now()

	runCtx, cancel := context.WithTimeoutCause(ctx, cfg.Timeout, errWallClock)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := clk.Run(gctx, cfg.MaxTicks)
		if errors.Is(err, clock.ErrTickLimit) {
			return err
		}
		return nil
	})
	if stepper != nil {
		g.Go(func() error {
			defer stepMember.Leave()
			for {
				tick, err := stepMember.Next(gctx)
				if err != nil {
					return quiet(gctx, err)
				}
				if err := stepper.Step(gctx, tick); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return &InfraError{Op: "bench", Err: err}
				}
			}
		})
	}
	g.Go(func() error {
		defer pair.Close()
		return quiet(gctx, sampler.Run(gctx))
	})
	g.Go(func() error {
		defer pair.Close()
		return quiet(gctx, cmp.Run(gctx))
	})
	g.Go(func() error {
		if err := arb.Run(gctx); err != nil {
			if err = quiet(gctx, err); err != nil {
				return &InfraError{Op: "control", Err: err}
			}
			return nil
		}
		return errScheduleComplete
	})
	if rl != nil {
		g.Go(func() error {
			if err := quiet(gctx, rl.Run(gctx)); err != nil {
				return &InfraError{Op: "relay", Err: err}
			}
			return nil
		})
	}

	err = g.Wait()
	ticks := clk.Tick()
	status := arb.Status()
	switch {
	case errors.Is(err, errScheduleComplete):
		err = nil
	case errors.Is(err, clock.ErrTickLimit):
		err = timeoutError(status, schedule, ticks, err)
	case err == nil && errors.Is(context.Cause(runCtx), errWallClock):
		err = timeoutError(status, schedule, ticks, errWallClock)
	case err == nil && ctx.Err() != nil:
		err = context.Cause(ctx)
	case err == nil:
		err = errors.New("harness: run stopped before the schedule completed")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	res := st.res
	res.Err = err
	res.Outcome = classify(err)
	res.Count = cmp.Progress().Count
	res.Ticks = ticks
	res.Duration = time.Since(start)
	res.Rotations = status.Rotations
	if status.Anchored {
		res.LastSource = status.Source.Name
	}
	res.PendingReceived = pair.Len(ingest.Received)
	res.PendingEmitted = pair.Len(ingest.Emitted)
	if rl != nil {
		stats := rl.Stats()
		res.Relay = &stats
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		st.emit(trace.NewEvent(cfg.Name, trace.KindTimeout).
			WithTick(ticks).
			WithCount(res.Count).
			WithSource(te.Source).
			WithMessage(te.Error()))
	}
	if res.Trace, err = tr.Query(trace.Filter{}); err != nil {
		log.Warnf("Reading trace: %v", err)
	}

	switch res.Outcome {
	case OutcomePass:
		log.Infof("PASS: %d checks, %d rotations in %d ticks", res.Count, res.Rotations, res.Ticks)
	default:
		log.Warnf("%s: %v", res.Outcome, res.Err)
	}
	rep.RunEnd(res)
	return res, nil
}

// quiet drops the errors a task returns only because the run is stopping.
func quiet(ctx context.Context, err error) error {
	switch {
	case err == nil, errors.Is(err, clock.ErrStopped), errors.Is(err, ingest.ErrClosed):
		return nil
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return nil
	default:
		return err
	}
}

func timeoutError(status arbiter.Status, schedule source.Schedule, ticks uint64, cause error) *TimeoutError {
	if !status.Anchored {
		return &TimeoutError{Phase: PhaseSetup, Source: schedule[0].Name, Ticks: ticks, Cause: cause}
	}
	return &TimeoutError{Phase: PhaseRun, Count: status.Count, Source: status.Source.Name, Ticks: ticks, Cause: cause}
}

// runState turns comparator verdicts, arbiter events, and relay failures
// into trace events. Callbacks arrive from several tasks; mu serializes
// them so reporters see one ordered stream.
type runState struct {
	mu       sync.Mutex
	name     string
	schedule source.Schedule
	trace    trace.Logger
	reporter Reporter
	clock    *clock.Coordinator
	res      *Result
}

// emit logs and reports an event. The caller holds mu.
func (s *runState) emit(e *trace.Event) {
	if err := s.trace.Log(e); err != nil {
		util.Warnf("trace: %v", err)
	}
	s.reporter.Event(e)
}

func (s *runState) verdict(v compare.Verdict) {
	if v.Kind == compare.KindMatch {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var e *trace.Event
	switch v.Kind {
	case compare.KindTolerated:
		s.res.Tolerated++
		e = trace.NewEvent(s.name, trace.KindTolerated).
			WithUnits(v.Received.String(), v.Emitted.String()).
			WithMessage(v.Reason)
	case compare.KindResync:
		s.res.Resyncs++
		s.res.Discarded += v.Discarded
		e = trace.NewEvent(s.name, trace.KindResync).
			WithUnits(v.Received.String(), v.Emitted.String()).
			WithDiscarded(v.Discarded)
	case compare.KindSeamless:
		e = trace.NewEvent(s.name, trace.KindSeamless)
	case compare.KindFatal:
		s.res.Discarded += v.Discarded
		e = trace.NewEvent(s.name, trace.KindFatal).
			WithUnits(v.Received.String(), v.Emitted.String()).
			WithDiscarded(v.Discarded).
			WithMessage(v.Reason)
	default:
		return
	}

	tick := v.Received.Tick
	if tick == 0 {
		tick = s.clock.Tick()
	}
	e.WithTick(tick).WithCount(v.Count).WithTransition(v.Transition)
	if v.Transition >= 0 && v.Transition < len(s.schedule) {
		e.WithSource(s.schedule[v.Transition].Name)
	}
	s.emit(e)
}

func (s *runState) arbiterEvent(ev arbiter.Event) {
	var kind trace.Kind
	switch ev.Kind {
	case arbiter.EventAnchor:
		kind = trace.KindAnchor
	case arbiter.EventRotation:
		kind = trace.KindRotation
	case arbiter.EventComplete:
		kind = trace.KindComplete
	default:
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(trace.NewEvent(s.name, kind).
		WithTick(ev.Tick).
		WithCount(ev.Count).
		WithTransition(ev.Seq).
		WithSource(ev.Source.Name).
		WithMessage(ev.Source.String()))
}

func (s *runState) relayError(class relay.Class, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(trace.NewEvent(s.name, trace.KindRelayError).
		WithTick(s.clock.Tick()).
		WithMessage(fmt.Sprintf("%s frame: %v", class, err)))
}
