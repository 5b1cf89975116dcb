// Package bus defines the per-tick sample contract between the bus adapters
// and the harness, and the masked data units extracted from those samples.
package bus

import (
	"bytes"
	"encoding/hex"
)

// DefaultWidth is the raw bus width in bytes (a 128-bit AXI-Stream beat).
const DefaultWidth = 16

// MaxWidth is the widest bus a 64-bit keep mask can describe.
const MaxWidth = 64

// Unit is one data unit sampled from a bus in one cycle: the bytes the keep
// mask selected, in bus order. Units compare as unsigned big-endian
// integers, so leading zero bytes do not affect equality.
type Unit struct {
	Bytes  []byte
	Origin uint32 // observed source on the received side, 0 = unknown
	Tick   uint64 // tick the unit was sampled on
	Seq    uint64 // per-side sequence number, starting at 1
}

// Extract builds a unit from a raw bus value and its keep mask. Mask bit
// width-1-i selects byte i, so the most significant mask bit selects the
// first byte of the big-endian raw value. A raw value shorter than width
// holds the low-order bytes of a zero-padded value.
func Extract(raw []byte, keep uint64, width int) Unit {
	if width <= 0 || width > MaxWidth {
		width = DefaultWidth
	}
	padded := raw
	if len(raw) < width {
		padded = make([]byte, width)
		copy(padded[width-len(raw):], raw)
	} else if len(raw) > width {
		padded = raw[len(raw)-width:]
	}

	out := make([]byte, 0, width)
	for i := 0; i < width; i++ {
		if keep&(1<<uint(width-1-i)) != 0 {
			out = append(out, padded[i])
		}
	}
	return Unit{Bytes: out}
}

// Value returns the unit's integer value as minimal big-endian bytes.
func (u Unit) Value() []byte {
	return bytes.TrimLeft(u.Bytes, "\x00")
}

// Equal reports whether two units carry the same integer value.
func (u Unit) Equal(o Unit) bool {
	return bytes.Equal(u.Value(), o.Value())
}

// Hex returns the value in 0x-prefixed hex, "0x0" for zero.
func (u Unit) Hex() string {
	v := u.Value()
	if len(v) == 0 {
		return "0x0"
	}
	s := hex.EncodeToString(v)
	if s[0] == '0' {
		s = s[1:]
	}
	return "0x" + s
}

func (u Unit) String() string {
	return u.Hex()
}
