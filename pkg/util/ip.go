package util

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// The DUT exposes IPv4 addresses on its control and status ports with the
// first octet in the least significant byte: 192.168.2.11 reads back as
// 0x0b02a8c0. EncodeAddr and DecodeAddr convert between that register form
// and netip.Addr.

// EncodeAddr returns the register encoding of an IPv4 address.
// Non-IPv4 and invalid addresses encode as 0.
func EncodeAddr(addr netip.Addr) uint32 {
	if !addr.Is4() {
		return 0
	}
	b := addr.As4()
	return binary.LittleEndian.Uint32(b[:])
}

// DecodeAddr returns the IPv4 address held in a register value.
// Zero decodes to the invalid Addr, which callers treat as "unknown".
func DecodeAddr(v uint32) netip.Addr {
	if v == 0 {
		return netip.Addr{}
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// ParseIPv4 parses a dotted-quad IPv4 address.
func ParseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address: %s", s)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not an IPv4 address: %s", s)
	}
	return addr, nil
}
