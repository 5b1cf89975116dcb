// Package source describes the upstream traffic sources the harness rotates
// through and how each one is selected on the DUT's control surface.
package source

import (
	"fmt"
	"net/netip"

	"github.com/newtron-network/echobench/pkg/util"
)

// Register names a DUT control input.
type Register string

const (
	// RegisterAddress holds the remote IPv4 address of the active server.
	RegisterAddress Register = "remote_ip_addr"
	// RegisterClass holds the class selector (AXI-Stream tDest); 0 = off.
	RegisterClass Register = "t_dest"
)

// Kind distinguishes address-keyed sources from class selectors.
type Kind string

const (
	KindAddress Kind = "address"
	KindClass   Kind = "class"
)

// Source is one entry of the closed set of configured traffic origins.
type Source struct {
	Name string
	Kind Kind

	// Addr is the server address an address source commands.
	Addr netip.Addr
	// Class is the selector value a class source commands.
	Class uint32
	// Origin is the address the DUT is expected to report for data from
	// this source. For address sources it equals Addr.
	Origin netip.Addr
}

// Address returns an address-keyed source.
func Address(name string, addr netip.Addr) Source {
	return Source{Name: name, Kind: KindAddress, Addr: addr, Origin: addr}
}

// Class returns a class-selector source expected to deliver data from origin.
func Class(name string, class uint32, origin netip.Addr) Source {
	return Source{Name: name, Kind: KindClass, Class: class, Origin: origin}
}

// Register returns the control input this source is commanded on.
func (s Source) Register() Register {
	if s.Kind == KindClass {
		return RegisterClass
	}
	return RegisterAddress
}

// Value returns the register value that selects this source.
func (s Source) Value() uint32 {
	if s.Kind == KindClass {
		return s.Class
	}
	return util.EncodeAddr(s.Addr)
}

// OriginValue returns the origin in the DUT's status encoding.
func (s Source) OriginValue() uint32 {
	return util.EncodeAddr(s.Origin)
}

func (s Source) String() string {
	switch s.Kind {
	case KindClass:
		return fmt.Sprintf("%s (class %d -> %s)", s.Name, s.Class, s.Origin)
	default:
		return fmt.Sprintf("%s (%s)", s.Name, s.Addr)
	}
}

// Schedule is the ordered rotation. Entries may repeat.
type Schedule []Source

// Validate checks the schedule is usable for a run.
func (sch Schedule) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(len(sch) > 0, "schedule is empty")
	for i, s := range sch {
		switch s.Kind {
		case KindAddress:
			v.Add(s.Addr.Is4(), fmt.Sprintf("schedule[%d] %s: address must be IPv4", i, s.Name))
		case KindClass:
			v.Add(s.Class != 0, fmt.Sprintf("schedule[%d] %s: class must be non-zero", i, s.Name))
			v.Add(s.Origin.Is4(), fmt.Sprintf("schedule[%d] %s: origin must be IPv4", i, s.Name))
		default:
			v.AddErrorf("schedule[%d] %s: unknown kind %q", i, s.Name, s.Kind)
		}
	}
	return v.Build()
}

// Names returns the source names in schedule order.
func (sch Schedule) Names() []string {
	names := make([]string, len(sch))
	for i, s := range sch {
		names[i] = s.Name
	}
	return names
}
