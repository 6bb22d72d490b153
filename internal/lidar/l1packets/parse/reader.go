package parse

import (
	"encoding/binary"
	"math"
)

// cursor reads little-endian fields from a byte slice. Callers check
// remaining() before reading; the read methods do not bounds check.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) u8() uint8 {
	v := c.buf[c.off]
	c.off++
	return v
}

func (c *cursor) u32() uint32 {
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v
}

func (c *cursor) u64() uint64 {
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v
}

func (c *cursor) f32() float32 {
	return math.Float32frombits(c.u32())
}

func (c *cursor) u64s(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = c.u64()
	}
	return out
}

func (c *cursor) f32s(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = c.f32()
	}
	return out
}
