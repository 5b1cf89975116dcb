package bus

import (
	"bytes"
	"testing"
)

func seqBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(0x10 + i)
	}
	return b
}

func TestExtract(t *testing.T) {
	raw := seqBytes(16)

	tests := []struct {
		name string
		keep uint64
		want []byte
	}{
		{"full", 0xffff, raw},
		{"none", 0x0000, []byte{}},
		{"first byte only", 0x8000, []byte{0x10}},
		{"last byte only", 0x0001, []byte{0x1f}},
		{"leading half", 0xff00, raw[:8]},
		{"sparse keeps order", 0x8001 | 0x0100, []byte{0x10, 0x17, 0x1f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(raw, tt.keep, 16)
			if !bytes.Equal(got.Bytes, tt.want) {
				t.Errorf("Extract(keep=%#04x) = % x, want % x", tt.keep, got.Bytes, tt.want)
			}
		})
	}
}

func TestExtractShortRawIsZeroPadded(t *testing.T) {
	got := Extract([]byte{0xab, 0xcd}, 0x0003, 16)
	if !bytes.Equal(got.Bytes, []byte{0xab, 0xcd}) {
		t.Errorf("got % x, want ab cd", got.Bytes)
	}

	got = Extract([]byte{0xab}, 0x8000, 16)
	if !bytes.Equal(got.Bytes, []byte{0x00}) {
		t.Errorf("got % x, want 00", got.Bytes)
	}
}

func TestExtractNarrowWidth(t *testing.T) {
	got := Extract([]byte{1, 2, 3, 4}, 0b1010, 4)
	if !bytes.Equal(got.Bytes, []byte{1, 3}) {
		t.Errorf("got % x, want 01 03", got.Bytes)
	}
}

func TestUnitEqualIgnoresLeadingZeros(t *testing.T) {
	a := Unit{Bytes: []byte{0x00, 0x00, 0x12, 0x34}}
	b := Unit{Bytes: []byte{0x12, 0x34}}
	c := Unit{Bytes: []byte{0x12, 0x35}}

	if !a.Equal(b) {
		t.Error("units with equal integer value should be equal")
	}
	if a.Equal(c) {
		t.Error("different values should not be equal")
	}
	if !(Unit{}).Equal(Unit{Bytes: []byte{0, 0}}) {
		t.Error("empty unit and zero unit should be equal")
	}
}

func TestUnitHex(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, "0x0"},
		{[]byte{0, 0}, "0x0"},
		{[]byte{0x0a, 0xbc}, "0xabc"},
		{[]byte{0xde, 0xad}, "0xdead"},
		{[]byte{0x00, 0x01}, "0x1"},
	}
	for _, tt := range tests {
		if got := (Unit{Bytes: tt.in}).Hex(); got != tt.want {
			t.Errorf("Hex(% x) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFullMask(t *testing.T) {
	if FullMask(16) != 0xffff {
		t.Errorf("FullMask(16) = %#x", FullMask(16))
	}
	if FullMask(64) != ^uint64(0) {
		t.Errorf("FullMask(64) = %#x", FullMask(64))
	}
	if FullMask(1) != 1 {
		t.Errorf("FullMask(1) = %#x", FullMask(1))
	}
}
