package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/control"
	"github.com/newtron-network/echobench/pkg/dut"
	"github.com/newtron-network/echobench/pkg/relay"
	"github.com/newtron-network/echobench/pkg/util"
)

// Bench is the DUT as the harness sees it: two monitored bus lines and the
// control surface the arbiter drives.
type Bench interface {
	Received() bus.Line
	Emitted() bus.Line
	Control() control.Surface
}

// Stepper is a bench that settles its signals itself. Step runs first on
// every tick, before the sampler.
type Stepper interface {
	Step(ctx context.Context, tick uint64) error
}

// FrameBench is a bench with an Ethernet frame interface for the relay.
type FrameBench interface {
	// FramePorts returns the DUT's outbound and inbound frame ports, or
	// nils if it has none.
	FramePorts() (out, in relay.Port)
}

// Setup is everything a run file asks to be built around the core engine.
type Setup struct {
	Bench     Bench
	Responder relay.Responder
	Reporters []Reporter

	closers []io.Closer
}

// mirrorMAC is the hardware address the in-process mirror answers with.
var mirrorMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x00, 0x00, 0x02}

// Build constructs the bench, responder, and publisher a run file
// describes. Close the setup when the run is over.
func Build(ctx context.Context, cfg *Config) (*Setup, error) {
	s := &Setup{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	surface, err := buildSurface(ctx, cfg, s)
	if err != nil {
		return nil, err
	}

	if cfg.Loopback == nil {
		return nil, &util.ConfigError{Err: errors.New("no bench configured: the loopback bench is the only one built from a run file")}
	}
	lb, err := buildLoopback(cfg, surface)
	if err != nil {
		return nil, err
	}
	s.Bench = lb
	s.closers = append(s.closers, lb)

	switch {
	case cfg.Relay != nil:
		r, err := relay.NewSSHResponder(relay.SSHConfig{
			Host:     cfg.Relay.Host,
			User:     cfg.Relay.User,
			Password: cfg.Relay.Password,
			Command:  cfg.Relay.Command,
			Timeout:  cfg.Relay.Timeout,
		})
		if err != nil {
			return nil, &InfraError{Op: "relay", Err: err}
		}
		s.Responder = r
		s.closers = append(s.closers, r)
	case cfg.Loopback.Mirror:
		s.Responder = relay.Mirror(mirrorMAC)
	}

	if cfg.Publish != nil {
		p, err := NewRedisPublisher(ctx, *cfg.Publish)
		if err != nil {
			return nil, &InfraError{Op: "publish", Err: err}
		}
		s.Reporters = append(s.Reporters, p)
		s.closers = append(s.closers, p)
	}

	ok = true
	return s, nil
}

func buildSurface(ctx context.Context, cfg *Config, s *Setup) (control.Surface, error) {
	if cfg.Control.Backend != "redis" {
		return control.NewMemory(), nil
	}
	rs, err := control.NewRedisSurface(ctx, control.RedisOptions{
		Addr:        cfg.Control.Addr,
		DB:          cfg.Control.DB,
		Key:         cfg.Control.Key,
		SSHHost:     cfg.Control.SSHHost,
		SSHUser:     cfg.Control.SSHUser,
		SSHPassword: cfg.Control.SSHPassword,
	})
	if err != nil {
		return nil, &InfraError{Op: "control", Err: err}
	}
	s.closers = append(s.closers, rs)
	// Clear registers left by an earlier loopback run.
	if cfg.Loopback != nil {
		if err := rs.Reset(ctx); err != nil {
			return nil, &InfraError{Op: "control", Err: fmt.Errorf("reset %s: %w", rs.Key(), err)}
		}
	}
	return rs, nil
}

func buildLoopback(cfg *Config, surface control.Surface) (*dut.Loopback, error) {
	sch, err := cfg.ResolveSchedule()
	if err != nil {
		return nil, &util.ConfigError{Err: err}
	}
	classes := make(map[uint32]netip.Addr)
	for _, spec := range cfg.Sources {
		if spec.Class == 0 {
			continue
		}
		src, err := spec.Source()
		if err != nil {
			return nil, &util.ConfigError{Err: err}
		}
		classes[src.Class] = src.Origin
	}
	lb := cfg.Loopback
	l, err := dut.New(dut.Config{
		Width:        cfg.UnitWidth,
		Latency:      lb.Latency,
		Glitch:       lb.Glitch,
		DivergeAfter: lb.DivergeAfter,
		AnchorDelay:  *lb.AnchorDelay,
		ValidEvery:   lb.ValidEvery,
		Seed:         lb.Seed,
		FrameEvery:   lb.FrameEvery,
		Anchor:       sch[0],
		Classes:      classes,
	}, surface)
	if err != nil {
		return nil, &util.ConfigError{Err: err}
	}
	return l, nil
}

// Close releases everything Build opened, last opened first.
func (s *Setup) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
