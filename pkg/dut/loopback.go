// Package dut provides the loopback bench: a behavioral stand-in for the
// network engine that echoes every accepted unit back out, used for
// self-test runs and the harness's own tests.
package dut

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/control"
	"github.com/newtron-network/echobench/pkg/relay"
	"github.com/newtron-network/echobench/pkg/source"
	"github.com/newtron-network/echobench/pkg/util"
)

// Config shapes the loopback's behavior.
type Config struct {
	Width int
	// Latency is the number of ticks between accepting a unit and echoing it.
	Latency int
	// Glitch stray units enter the emitted stream on every source switch.
	Glitch int
	// DivergeAfter corrupts every echo accepted after that many switches.
	// 0 = never.
	DivergeAfter int
	// AnchorDelay is the tick after which the bench selects Anchor on the
	// control surface. Negative = never.
	AnchorDelay int
	// ValidEvery accepts one unit every that many ticks.
	ValidEvery int
	Seed       uint64
	// FrameEvery sends an outbound ARP or UDP frame every that many ticks
	// while a source is active. 0 = no frames.
	FrameEvery int

	Anchor source.Source
	// Classes maps class selector values to the origin they deliver from.
	Classes map[uint32]netip.Addr
}

// Stats counts what the loopback did.
type Stats struct {
	Accepted uint64
	Echoed   uint64
	Strays   uint64
	Switches int
	Frames   uint64
	Replies  uint64
}

type entry struct {
	ready   uint64
	data    []byte
	keep    uint64
	corrupt bool
}

var (
	localMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x00, 0x00, 0x01}
	localIP  = netip.MustParseAddr("192.168.2.1")
)

// Loopback is the echo bench. Step must run before the sampler on every
// tick; the lines report what Step settled for that tick.
type Loopback struct {
	cfg     Config
	surface control.Surface
	rng     *rand.Rand
	log     *logrus.Entry

	mu       sync.Mutex
	tick     uint64
	rx, tx   bus.Sample
	pipe     []entry
	origin   uint32
	anchored bool
	stats    Stats

	out, in *relay.ChanPort
}

// New creates a loopback bench on surface. A nil surface gets an in-memory
// register file.
func New(cfg Config, surface control.Surface) (*Loopback, error) {
	if cfg.Width == 0 {
		cfg.Width = bus.DefaultWidth
	}
	if cfg.ValidEvery == 0 {
		cfg.ValidEvery = 1
	}
	v := &util.ValidationBuilder{}
	v.Add(cfg.Width > 0 && cfg.Width <= bus.MaxWidth, fmt.Sprintf("loopback width must be 1..%d, got %d", bus.MaxWidth, cfg.Width))
	v.Add(cfg.Latency >= 0, "loopback latency must not be negative")
	v.Add(cfg.Glitch >= 0, "loopback glitch must not be negative")
	v.Add(cfg.DivergeAfter >= 0, "loopback diverge_after must not be negative")
	v.Add(cfg.ValidEvery > 0, "loopback valid_every must be positive")
	v.Add(cfg.FrameEvery >= 0, "loopback frame_every must not be negative")
	if err := v.Build(); err != nil {
		return nil, err
	}
	if surface == nil {
		surface = control.NewMemory()
	}
	l := &Loopback{
		cfg:     cfg,
		surface: surface,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log:     util.WithComponent("loopback"),
	}
	if cfg.FrameEvery > 0 {
		l.out = relay.NewChanPort(64)
		l.in = relay.NewChanPort(64)
	}
	return l, nil
}

// Control returns the bench's control surface.
func (l *Loopback) Control() control.Surface {
	return l.surface
}

// Received returns the line of units the bench accepted.
func (l *Loopback) Received() bus.Line {
	return bus.LineFunc(func(tick uint64) bus.Sample {
		l.mu.Lock()
		defer l.mu.Unlock()
		if tick != l.tick {
			return bus.Sample{}
		}
		return l.rx
	})
}

// Emitted returns the line of units the bench echoed.
func (l *Loopback) Emitted() bus.Line {
	return bus.LineFunc(func(tick uint64) bus.Sample {
		l.mu.Lock()
		defer l.mu.Unlock()
		if tick != l.tick {
			return bus.Sample{}
		}
		return l.tx
	})
}

// FramePorts returns the outbound and inbound frame ports, or nils when
// the bench sends no frames.
func (l *Loopback) FramePorts() (out, in relay.Port) {
	if l.out == nil {
		return nil, nil
	}
	return l.out, l.in
}

// Close closes the outbound frame port so a relay reading it finishes.
func (l *Loopback) Close() error {
	if l.out != nil {
		l.out.Close()
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (l *Loopback) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Step settles the bench's signals for tick.
func (l *Loopback) Step(ctx context.Context, tick uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick = tick

	if !l.anchored && l.cfg.AnchorDelay >= 0 && tick > uint64(l.cfg.AnchorDelay) {
		if err := control.Command(ctx, l.surface, l.cfg.Anchor); err != nil {
			return fmt.Errorf("loopback: select anchor: %w", err)
		}
		l.anchored = true
		l.log.Debugf("Selected %s at tick %d", l.cfg.Anchor, tick)
	}

	origin, err := l.activeOrigin(ctx)
	if err != nil {
		return err
	}
	if origin != l.origin {
		if l.origin != 0 {
			l.stats.Switches++
			for i := 0; i < l.cfg.Glitch; i++ {
				l.pipe = append(l.pipe, entry{ready: tick, data: l.random(), keep: bus.FullMask(l.cfg.Width)})
				l.stats.Strays++
			}
			l.log.Debugf("Switched to %s at tick %d", util.DecodeAddr(origin), tick)
		}
		l.origin = origin
	}

	l.rx = bus.Sample{}
	if l.origin != 0 && tick%uint64(l.cfg.ValidEvery) == 0 {
		data, keep := l.random(), bus.FullMask(l.cfg.Width)
		if l.stats.Accepted%8 == 7 && l.cfg.Width > 1 {
			k := 1 + l.rng.IntN(l.cfg.Width-1)
			keep &^= (uint64(1) << uint(k)) - 1
		}
		l.rx = bus.Sample{Valid: true, Data: data, Keep: keep, Origin: l.origin}
		corrupt := l.cfg.DivergeAfter > 0 && l.stats.Switches >= l.cfg.DivergeAfter
		l.pipe = append(l.pipe, entry{ready: tick + uint64(l.cfg.Latency), data: data, keep: keep, corrupt: corrupt})
		l.stats.Accepted++
	}

	l.tx = bus.Sample{}
	if len(l.pipe) > 0 && l.pipe[0].ready <= tick {
		e := l.pipe[0]
		l.pipe = l.pipe[1:]
		data := e.data
		if e.corrupt {
			data = make([]byte, len(e.data))
			for i, b := range e.data {
				data[i] = b ^ 0xa5
			}
		}
		l.tx = bus.Sample{Valid: true, Data: data, Keep: e.keep}
		l.stats.Echoed++
	}

	l.exchangeFrames(tick)
	return nil
}

// activeOrigin derives the origin the DUT serves from its control inputs.
// A non-zero class selector wins over the address register.
func (l *Loopback) activeOrigin(ctx context.Context) (uint32, error) {
	class, err := l.surface.Read(ctx, source.RegisterClass)
	if err != nil {
		return 0, fmt.Errorf("loopback: read %s: %w", source.RegisterClass, err)
	}
	if class != 0 {
		origin, ok := l.cfg.Classes[class]
		if !ok {
			return 0, nil
		}
		return util.EncodeAddr(origin), nil
	}
	addr, err := l.surface.Read(ctx, source.RegisterAddress)
	if err != nil {
		return 0, fmt.Errorf("loopback: read %s: %w", source.RegisterAddress, err)
	}
	return addr, nil
}

func (l *Loopback) exchangeFrames(tick uint64) {
	if l.out == nil {
		return
	}
	for {
		if _, ok := l.in.TryRecv(); !ok {
			break
		}
		l.stats.Replies++
	}
	if l.origin == 0 || tick%uint64(l.cfg.FrameEvery) != 0 {
		return
	}

	target := util.DecodeAddr(l.origin)
	var frame []byte
	var err error
	if l.stats.Frames%2 == 0 {
		frame, err = relay.ARPRequest(localMAC, localIP, target)
	} else {
		frame, err = relay.UDPDatagram(localMAC, localMAC,
			netip.AddrPortFrom(localIP, 5000), netip.AddrPortFrom(target, 7), l.random())
	}
	if err != nil {
		l.log.Warnf("Building frame: %v", err)
		return
	}
	if l.out.TrySend(frame) {
		l.stats.Frames++
	}
}

func (l *Loopback) random() []byte {
	b := make([]byte, l.cfg.Width)
	for i := 0; i < len(b); i += 8 {
		v := l.rng.Uint64()
		for j := 0; j < 8 && i+j < len(b); j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	return b
}
