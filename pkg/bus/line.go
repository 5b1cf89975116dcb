package bus

// Sample is what a bus adapter reports for one side of the DUT on one tick.
type Sample struct {
	Valid  bool
	Data   []byte // raw big-endian value, Width bytes
	Keep   uint64 // byte-validity mask
	Origin uint32 // source the DUT tagged the data with (received side only)
}

// Line is one monitored side of the DUT. Sample is called exactly once per
// tick by the sampler, after the bench has settled that tick's signals.
type Line interface {
	Sample(tick uint64) Sample
}

// LineFunc adapts a function to the Line interface.
type LineFunc func(tick uint64) Sample

// Sample implements Line.
func (f LineFunc) Sample(tick uint64) Sample {
	return f(tick)
}

// FullMask returns a keep mask selecting every byte of a width-byte bus.
func FullMask(width int) uint64 {
	if width >= MaxWidth {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}
