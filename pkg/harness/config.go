// Package harness assembles a validation run: it wires the sampler,
// comparator, arbiter, and optional relay around one clock, runs them to a
// terminal condition, and reports the outcome.
package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/echobench/pkg/bus"
	"github.com/newtron-network/echobench/pkg/compare"
	"github.com/newtron-network/echobench/pkg/source"
	"github.com/newtron-network/echobench/pkg/util"
)

// Defaults for a run file.
const (
	DefaultWindowSize  = 50
	DefaultTimeout     = 60 * time.Second
	DefaultAnchorDelay = 200
	DefaultPubChannel  = "echobench"
)

// Config is one run file.
type Config struct {
	Name          string        `yaml:"name,omitempty"`
	WindowSize    *int          `yaml:"window_size,omitempty"`
	Tolerance     string        `yaml:"tolerance,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	MaxTicks      uint64        `yaml:"max_ticks,omitempty"`
	UnitWidth     int           `yaml:"unit_width,omitempty"`
	TrackOrigin   bool          `yaml:"track_origin,omitempty"`
	ResyncLimit   int           `yaml:"resync_limit,omitempty"`
	SettleMatches int           `yaml:"settle_matches,omitempty"`

	Sources  []SourceSpec `yaml:"sources"`
	Schedule []string     `yaml:"schedule"`

	Control  ControlSpec   `yaml:"control,omitempty"`
	Publish  *PublishSpec  `yaml:"publish,omitempty"`
	Relay    *RelaySpec    `yaml:"relay,omitempty"`
	Loopback *LoopbackSpec `yaml:"loopback,omitempty"`
}

// SourceSpec declares one traffic source: either an address, or a class
// selector with the origin it delivers from.
type SourceSpec struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address,omitempty"`
	Class   uint32 `yaml:"class,omitempty"`
	Origin  string `yaml:"origin,omitempty"`
}

// ControlSpec selects the control surface backend.
type ControlSpec struct {
	Backend     string `yaml:"backend,omitempty"` // memory (default) or redis
	Addr        string `yaml:"addr,omitempty"`
	DB          int    `yaml:"db,omitempty"`
	Key         string `yaml:"key,omitempty"`
	SSHHost     string `yaml:"ssh_host,omitempty"`
	SSHUser     string `yaml:"ssh_user,omitempty"`
	SSHPassword string `yaml:"ssh_password,omitempty"`
}

// PublishSpec enables live verdict publishing on Redis pub/sub.
type PublishSpec struct {
	Addr    string `yaml:"addr,omitempty"`
	DB      int    `yaml:"db,omitempty"`
	Channel string `yaml:"channel,omitempty"`
}

// RelaySpec locates the echo host that answers ARP and UDP frames.
type RelaySpec struct {
	Host     string        `yaml:"host"`
	User     string        `yaml:"user,omitempty"`
	Password string        `yaml:"password,omitempty"`
	Command  string        `yaml:"command"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// LoopbackSpec runs the built-in loopback bench.
type LoopbackSpec struct {
	Latency      int    `yaml:"latency,omitempty"`
	Glitch       int    `yaml:"glitch,omitempty"`
	DivergeAfter int    `yaml:"diverge_after,omitempty"`
	AnchorDelay  *int   `yaml:"anchor_delay,omitempty"`
	ValidEvery   int    `yaml:"valid_every,omitempty"`
	Seed         uint64 `yaml:"seed,omitempty"`
	FrameEvery   int    `yaml:"frame_every,omitempty"`
	// Mirror answers frames in-process when no relay host is configured.
	Mirror bool `yaml:"mirror,omitempty"`
}

// ParseConfig reads a YAML run file, applies defaults, and validates it.
// The run name defaults to the file name without its extension. Overrides
// run after decoding, before defaults and validation.
func ParseConfig(path string, overrides ...func(*Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.finish(); err != nil {
		return nil, &util.ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// DecodeConfig decodes a run file from r, applies defaults, and validates it.
func DecodeConfig(r io.Reader) (*Config, error) {
	cfg, err := decodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, &util.ConfigError{Err: err}
	}
	return cfg, nil
}

// decodeConfig decodes without applying defaults. Unknown keys are an error.
func decodeConfig(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	c.ApplyDefaults()
	return c.Validate()
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "echobench"
	}
	if c.WindowSize == nil {
		w := DefaultWindowSize
		c.WindowSize = &w
	}
	if c.Tolerance == "" {
		c.Tolerance = string(compare.PolicyStrict)
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UnitWidth == 0 {
		c.UnitWidth = bus.DefaultWidth
	}
	if c.SettleMatches == 0 {
		c.SettleMatches = *c.WindowSize
	}
	if c.Control.Backend == "" {
		c.Control.Backend = "memory"
	}
	if c.Control.Backend == "redis" && c.Control.Key == "" {
		c.Control.Key = c.Name
	}
	if c.Publish != nil && c.Publish.Channel == "" {
		c.Publish.Channel = DefaultPubChannel + ":" + c.Name
	}
	if c.Loopback != nil {
		if c.Loopback.AnchorDelay == nil {
			d := DefaultAnchorDelay
			c.Loopback.AnchorDelay = &d
		}
		if c.Loopback.ValidEvery == 0 {
			c.Loopback.ValidEvery = 1
		}
	}
}

// Validate checks the configuration. Every problem is reported, not just
// the first.
func (c *Config) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(c.Window() > 0, fmt.Sprintf("window_size must be positive, got %d", c.Window()))
	if _, err := compare.ParsePolicy(c.Tolerance); err != nil {
		v.AddError(err.Error())
	}
	v.Add(c.Timeout >= 0, "timeout must not be negative")
	v.Add(c.UnitWidth > 0 && c.UnitWidth <= bus.MaxWidth,
		fmt.Sprintf("unit_width must be 1..%d, got %d", bus.MaxWidth, c.UnitWidth))
	v.Add(c.ResyncLimit >= 0, "resync_limit must not be negative")
	v.Add(c.SettleMatches >= 0, "settle_matches must not be negative")

	names := make(map[string]bool)
	for i, s := range c.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if s.Name == "" {
			v.AddErrorf("%s: name is required", prefix)
			continue
		}
		prefix = fmt.Sprintf("source %s", s.Name)
		if names[s.Name] {
			v.AddErrorf("%s: duplicate name", prefix)
		}
		names[s.Name] = true
		switch {
		case s.Address != "" && s.Class != 0:
			v.AddErrorf("%s: address and class are mutually exclusive", prefix)
		case s.Address != "":
			if _, err := util.ParseIPv4(s.Address); err != nil {
				v.AddErrorf("%s: %v", prefix, err)
			}
		case s.Class != 0:
			if _, err := util.ParseIPv4(s.Origin); err != nil {
				v.AddErrorf("%s: origin: %v", prefix, err)
			}
		default:
			v.AddErrorf("%s: address or class is required", prefix)
		}
	}

	v.Add(len(c.Schedule) > 0, "schedule is empty")
	for i, name := range c.Schedule {
		if !names[name] {
			v.AddErrorf("schedule[%d]: unknown source %q", i, name)
		}
	}

	switch c.Control.Backend {
	case "memory":
	case "redis":
		v.Add(c.Control.Addr != "", "control.addr is required for the redis backend")
	default:
		v.AddErrorf("control.backend: unknown backend %q (expected memory or redis)", c.Control.Backend)
	}
	if c.Publish != nil {
		v.Add(c.Publish.Addr != "", "publish.addr is required")
	}
	if c.Relay != nil {
		v.Add(c.Relay.Host != "", "relay.host is required")
		v.Add(c.Relay.Command != "", "relay.command is required")
	}
	if lb := c.Loopback; lb != nil {
		v.Add(lb.Latency >= 0, "loopback.latency must not be negative")
		v.Add(lb.Glitch >= 0, "loopback.glitch must not be negative")
		v.Add(lb.DivergeAfter >= 0, "loopback.diverge_after must not be negative")
		v.Add(lb.ValidEvery > 0, "loopback.valid_every must be positive")
		v.Add(lb.FrameEvery >= 0, "loopback.frame_every must not be negative")
	}
	return v.Build()
}

// Window returns the window size, 0 when unset.
func (c *Config) Window() int {
	if c.WindowSize == nil {
		return 0
	}
	return *c.WindowSize
}

func (c *Config) source(name string) SourceSpec {
	for _, s := range c.Sources {
		if s.Name == name {
			return s
		}
	}
	return SourceSpec{}
}

// ResolveSchedule turns the schedule's names into sources.
func (c *Config) ResolveSchedule() (source.Schedule, error) {
	sch := make(source.Schedule, 0, len(c.Schedule))
	for i, name := range c.Schedule {
		spec := c.source(name)
		if spec.Name == "" {
			return nil, fmt.Errorf("schedule[%d]: unknown source %q", i, name)
		}
		src, err := spec.Source()
		if err != nil {
			return nil, err
		}
		sch = append(sch, src)
	}
	if err := sch.Validate(); err != nil {
		return nil, err
	}
	return sch, nil
}

// Source builds the source described by s.
func (s SourceSpec) Source() (source.Source, error) {
	if s.Class != 0 {
		origin, err := util.ParseIPv4(s.Origin)
		if err != nil {
			return source.Source{}, fmt.Errorf("source %s: origin: %w", s.Name, err)
		}
		return source.Class(s.Name, s.Class, origin), nil
	}
	addr, err := util.ParseIPv4(s.Address)
	if err != nil {
		return source.Source{}, fmt.Errorf("source %s: %w", s.Name, err)
	}
	return source.Address(s.Name, addr), nil
}

// CompareConfig returns the comparator settings of the run.
func (c *Config) CompareConfig() compare.Config {
	return compare.Config{
		WindowSize:    c.Window(),
		Policy:        compare.Policy(c.Tolerance),
		ResyncLimit:   c.ResyncLimit,
		SettleMatches: c.SettleMatches,
		TrackOrigin:   c.TrackOrigin,
	}
}
