package source

import (
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/newtron-network/echobench/pkg/util"
)

func TestAddressSource(t *testing.T) {
	s := Address("server1", netip.MustParseAddr("192.168.2.11"))

	if s.Register() != RegisterAddress {
		t.Errorf("Register() = %s", s.Register())
	}
	if s.Value() != 0x0b02a8c0 {
		t.Errorf("Value() = %#x, want 0x0b02a8c0", s.Value())
	}
	if s.OriginValue() != s.Value() {
		t.Errorf("address source origin should equal its address")
	}
	if s.String() != "server1 (192.168.2.11)" {
		t.Errorf("String() = %q", s.String())
	}
}

func TestClassSource(t *testing.T) {
	s := Class("class3", 3, netip.MustParseAddr("192.168.2.13"))

	if s.Register() != RegisterClass {
		t.Errorf("Register() = %s", s.Register())
	}
	if s.Value() != 3 {
		t.Errorf("Value() = %d, want 3", s.Value())
	}
	if s.OriginValue() != 0x0d02a8c0 {
		t.Errorf("OriginValue() = %#x", s.OriginValue())
	}
	if !strings.Contains(s.String(), "class 3") {
		t.Errorf("String() = %q", s.String())
	}
}

func TestScheduleValidate(t *testing.T) {
	ok := Schedule{
		Address("s1", netip.MustParseAddr("192.168.2.11")),
		Address("s2", netip.MustParseAddr("192.168.2.12")),
		Address("s1", netip.MustParseAddr("192.168.2.11")),
		Class("c1", 1, netip.MustParseAddr("192.168.2.11")),
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	tests := []struct {
		name string
		sch  Schedule
		want string
	}{
		{"empty", Schedule{}, "schedule is empty"},
		{"v6 address", Schedule{Address("s", netip.MustParseAddr("fe80::1"))}, "must be IPv4"},
		{"zero class", Schedule{Class("c", 0, netip.MustParseAddr("10.0.0.1"))}, "class must be non-zero"},
		{"bad kind", Schedule{{Name: "x", Kind: "mystery"}}, "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sch.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want %q", err, tt.want)
			}
			if !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error should wrap ErrValidationFailed")
			}
		})
	}
}

func TestScheduleNames(t *testing.T) {
	sch := Schedule{
		Address("a", netip.MustParseAddr("10.0.0.1")),
		Address("b", netip.MustParseAddr("10.0.0.2")),
	}
	names := sch.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v", names)
	}
}
