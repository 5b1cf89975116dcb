//go:build e2e

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type runEntry struct {
	name     string
	want     string
	got      string
	checks   uint64
	ticks    uint64
	comment  string
	failed   bool
	duration time.Duration
	order    int
}

type report struct {
	mu      sync.Mutex
	entries map[string]*runEntry
	seq     int
	start   time.Time
}

var globalReport *report

// InitReport creates the global report instance. Call from TestMain before m.Run().
func InitReport() {
	globalReport = &report{
		entries: make(map[string]*runEntry),
		start:   time.Now(),
	}
}

// TrackRun records the outcome of one run file against the outcome the
// test expected. The test's pass/fail state is captured at cleanup.
func TrackRun(t *testing.T, name, want, got string, checks, ticks uint64, d time.Duration) {
	if globalReport == nil {
		return
	}
	t.Helper()

	globalReport.mu.Lock()
	defer globalReport.mu.Unlock()

	globalReport.seq++
	entry := &runEntry{
		name:     name,
		want:     want,
		got:      got,
		checks:   checks,
		ticks:    ticks,
		duration: d,
		order:    globalReport.seq,
	}
	globalReport.entries[t.Name()] = entry

	t.Cleanup(func() {
		globalReport.mu.Lock()
		defer globalReport.mu.Unlock()
		entry.failed = t.Failed()
	})
}

// TrackComment attaches a comment to the current test's report entry.
func TrackComment(t *testing.T, msg string) {
	if globalReport == nil {
		return
	}
	t.Helper()

	globalReport.mu.Lock()
	defer globalReport.mu.Unlock()

	if entry, ok := globalReport.entries[t.Name()]; ok {
		if entry.comment != "" {
			entry.comment += "; "
		}
		entry.comment += msg
	}
}

// WriteReport writes the markdown report to path.
func WriteReport(path string) error {
	if globalReport == nil {
		return nil
	}

	globalReport.mu.Lock()
	defer globalReport.mu.Unlock()

	entries := make([]*runEntry, 0, len(globalReport.entries))
	for _, e := range globalReport.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	var b strings.Builder
	passed := 0
	for _, e := range entries {
		if !e.failed {
			passed++
		}
	}
	fmt.Fprintf(&b, "# echobench E2E report\n\n")
	fmt.Fprintf(&b, "%s, %d/%d runs as expected, %s total\n\n",
		globalReport.start.Format("2006-01-02 15:04:05"), passed, len(entries),
		formatDuration(time.Since(globalReport.start)))
	fmt.Fprintf(&b, "| Run | Expected | Outcome | Checks | Ticks | Duration | Notes |\n")
	fmt.Fprintf(&b, "|-----|----------|---------|--------|-------|----------|-------|\n")
	for _, e := range entries {
		status := e.got
		if e.failed {
			status += " (unexpected)"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %s | %s |\n",
			escapeMarkdownPipe(e.name), e.want, status, e.checks, e.ticks,
			formatDuration(e.duration), escapeMarkdownPipe(e.comment))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm %ds", m, s)
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
