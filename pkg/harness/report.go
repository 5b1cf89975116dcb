package harness

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/newtron-network/echobench/pkg/cli"
	"github.com/newtron-network/echobench/pkg/source"
	"github.com/newtron-network/echobench/pkg/trace"
)

// Reporter receives lifecycle callbacks during a run. Calls are serialized.
type Reporter interface {
	RunStart(cfg *Config, schedule source.Schedule)
	Event(e *trace.Event)
	RunEnd(res *Result)
}

// MultiReporter fans callbacks out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) RunStart(cfg *Config, schedule source.Schedule) {
	for _, r := range m {
		r.RunStart(cfg, schedule)
	}
}

func (m MultiReporter) Event(e *trace.Event) {
	for _, r := range m {
		r.Event(e)
	}
}

func (m MultiReporter) RunEnd(res *Result) {
	for _, r := range m {
		r.RunEnd(res)
	}
}

// ConsoleReporter is an append-only terminal reporter.
// It never uses ANSI cursor rewriting, so output is safe for pipes, CI,
// and scrollback buffers.
type ConsoleReporter struct {
	W       io.Writer
	Verbose bool

	dotWidth int
}

// NewConsoleReporter creates a ConsoleReporter writing to stdout.
func NewConsoleReporter(verbose bool) *ConsoleReporter {
	return &ConsoleReporter{
		W:       os.Stdout,
		Verbose: verbose,
	}
}

func (p *ConsoleReporter) RunStart(cfg *Config, schedule source.Schedule) {
	maxName := 0
	for _, s := range schedule {
		if len(s.Name) > maxName {
			maxName = len(s.Name)
		}
	}
	p.dotWidth = maxName + 6

	fmt.Fprintf(p.W, "\nechobench: %s, %d sources, window %d, tolerance %s\n\n",
		cfg.Name, len(schedule), cfg.Window(), cfg.Tolerance)

	tbl := cli.NewTableTo(p.W, "#", "SOURCE", "REGISTER", "SELECTS").WithPrefix("  ")
	for i, s := range schedule {
		selects := s.Addr.String()
		if s.Kind == source.KindClass {
			selects = fmt.Sprintf("class %d -> %s", s.Class, s.Origin)
		}
		tbl.Row(fmt.Sprintf("%d", i+1), s.Name, string(s.Register()), selects)
	}
	tbl.Flush()
	fmt.Fprintln(p.W)
}

func (p *ConsoleReporter) Event(e *trace.Event) {
	switch e.Kind {
	case trace.KindAnchor, trace.KindRotation:
		tag := fmt.Sprintf("[%d]", e.Transition+1)
		fmt.Fprintf(p.W, "  %-5s %s check %d, tick %d\n", tag, cli.DotPad(e.Source, p.dotWidth), e.Count, e.Tick)
	case trace.KindFatal:
		fmt.Fprintf(p.W, "        %s %s\n", cli.Red("fatal mismatch:"), e.Message)
	case trace.KindTimeout:
		fmt.Fprintf(p.W, "        %s %s\n", cli.Red("timeout:"), e.Message)
	default:
		if !p.Verbose {
			return
		}
		switch e.Kind {
		case trace.KindTolerated:
			fmt.Fprintf(p.W, "        %s at check %d: received %s, emitted %s\n",
				cli.Yellow("tolerated mismatch"), e.Count, e.Received, e.Emitted)
		case trace.KindResync:
			fmt.Fprintf(p.W, "        %s at check %d (%d discarded)\n", cli.Dim("resynchronized"), e.Count, e.Discarded)
		case trace.KindSeamless:
			fmt.Fprintf(p.W, "        %s at check %d\n", cli.Dim("window settled"), e.Count)
		case trace.KindRelayError:
			fmt.Fprintf(p.W, "        %s %s\n", cli.Yellow("relay:"), e.Message)
		}
	}
}

func (p *ConsoleReporter) RunEnd(res *Result) {
	fmt.Fprintf(p.W, "\n---\n")
	fmt.Fprintf(p.W, "echobench: %s %s", res.Name, p.colorOutcome(res.Outcome))
	if reason := res.Reason(); reason != "" && res.Outcome != OutcomeError {
		fmt.Fprintf(p.W, ": %s", reason)
	}
	fmt.Fprintf(p.W, "  (%s)\n", p.formatDuration(res.Duration))

	parts := []string{
		fmt.Sprintf("%d checks", res.Count),
		fmt.Sprintf("%d rotations", res.Rotations),
	}
	if res.Tolerated > 0 {
		parts = append(parts, cli.Yellow(fmt.Sprintf("%d tolerated", res.Tolerated)))
	}
	if res.Discarded > 0 {
		parts = append(parts, fmt.Sprintf("%d discarded", res.Discarded))
	}
	parts = append(parts, fmt.Sprintf("%d ticks", res.Ticks))
	fmt.Fprintf(p.W, "  %s\n", strings.Join(parts, ", "))

	if res.LastSource != "" {
		fmt.Fprintf(p.W, "  last source: %s\n", res.LastSource)
	}
	if res.PendingReceived > 0 || res.PendingEmitted > 0 {
		fmt.Fprintf(p.W, "  pending: %d received, %d emitted\n", res.PendingReceived, res.PendingEmitted)
	}
	if res.Relay != nil {
		fmt.Fprintf(p.W, "  relay: %d relayed, %d forwarded, %d dropped, %d failed\n",
			res.Relay.Relayed, res.Relay.Forwarded, res.Relay.Dropped, res.Relay.Failed)
	}
	if res.Err != nil && res.Outcome != OutcomePass {
		fmt.Fprintf(p.W, "\n  %s\n", cli.Dim(res.Err.Error()))
	}
	fmt.Fprintln(p.W)
}

func (p *ConsoleReporter) colorOutcome(o Outcome) string {
	switch o {
	case OutcomePass:
		return cli.Green(string(o))
	case OutcomeTimeout:
		return cli.Yellow(string(o))
	default:
		return cli.Red(string(o))
	}
}

func (p *ConsoleReporter) formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
