// Package control implements the DUT's control surface: the registers the
// arbiter polls to find the active source and writes to command a new one.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/newtron-network/echobench/pkg/source"
)

// Surface reads and writes DUT control registers.
type Surface interface {
	Read(ctx context.Context, reg source.Register) (uint32, error)
	Write(ctx context.Context, reg source.Register, value uint32) error
}

// Command selects src on the surface.
func Command(ctx context.Context, s Surface, src source.Source) error {
	return s.Write(ctx, src.Register(), src.Value())
}

// Selected reports whether src is the source currently selected on s.
func Selected(ctx context.Context, s Surface, src source.Source) (bool, error) {
	v, err := s.Read(ctx, src.Register())
	if err != nil {
		return false, err
	}
	return v == src.Value(), nil
}

// Write records one register write.
type Write struct {
	Register source.Register
	Value    uint32
	At       time.Time
}

// Memory is an in-process register file. Unwritten registers read as 0.
type Memory struct {
	mu      sync.RWMutex
	regs    map[source.Register]uint32
	history []Write
}

// NewMemory creates an empty register file.
func NewMemory() *Memory {
	return &Memory{regs: make(map[source.Register]uint32)}
}

// Read implements Surface.
func (m *Memory) Read(_ context.Context, reg source.Register) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regs[reg], nil
}

// Write implements Surface.
func (m *Memory) Write(_ context.Context, reg source.Register, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg] = value
	m.history = append(m.history, Write{Register: reg, Value: value, At: time.Now()})
	return nil
}

// History returns a copy of all writes in order.
func (m *Memory) History() []Write {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Write, len(m.history))
	copy(out, m.history)
	return out
}
