package testutil

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Compact Format constants mirrored here so fixtures do not depend on the
// decoder under test.
const (
	CompactStartOfFrame = 0x02020202
	CompactCommandID    = 1
	CompactHeaderSize   = 32
)

// Content flag bits.
const (
	EchoDistance uint8 = 0x01
	EchoRSSI     uint8 = 0x02
	BeamProperty uint8 = 0x01
	BeamAzimuth  uint8 = 0x02
)

// ModuleSpec describes one synthetic module. Zero-valued per-layer slices
// default to zeros, Scale defaults to 1.
type ModuleSpec struct {
	SegmentCounter uint64
	FrameNumber    uint64
	SenderID       uint32

	Lines, Beams, Echos int

	TimeStampStart []uint64
	TimeStampStop  []uint64
	Phi            []float32
	ThetaStart     []float32
	ThetaStop      []float32

	Scale     float32
	EchoFlags uint8
	BeamFlags uint8

	Distance func(beam, layer, echo int) uint16
	RSSI     func(beam, layer, echo int) uint16
	Property func(beam, layer int) uint8
	Azimuth  func(beam, layer int) uint16

	// Trailing appends padding after the measurement block.
	Trailing int
	// Next, when non-nil, overrides the encoded nextModuleSize.
	Next *uint32
	// TruncateTo, when positive, cuts the encoded module to this many bytes
	// while keeping its declared size.
	TruncateTo int
}

// ConstDistance returns a Distance func yielding v for every echo.
func ConstDistance(v uint16) func(int, int, int) uint16 {
	return func(int, int, int) uint16 { return v }
}

// TelegramBuilder assembles Compact Format telegrams for tests.
type TelegramBuilder struct {
	StartOfFrame      uint32
	CommandID         uint32
	TelegramCounter   uint64
	TimeStampTransmit uint64
	Version           uint32
	Modules           []ModuleSpec
	// SizeModule0, when non-nil, overrides the header's first module size.
	SizeModule0 *uint32
}

// NewTelegramBuilder returns a builder for a valid, module-less telegram.
func NewTelegramBuilder() *TelegramBuilder {
	return &TelegramBuilder{
		StartOfFrame: CompactStartOfFrame,
		CommandID:    CompactCommandID,
		Version:      4,
	}
}

// WithCounter sets the telegram counter.
func (b *TelegramBuilder) WithCounter(n uint64) *TelegramBuilder {
	b.TelegramCounter = n
	return b
}

// AddModule appends a module to the chain.
func (b *TelegramBuilder) AddModule(m ModuleSpec) *TelegramBuilder {
	b.Modules = append(b.Modules, m)
	return b
}

// Build encodes the telegram. Each module's nextModuleSize is the size of
// the module after it unless overridden.
func (b *TelegramBuilder) Build() []byte {
	encoded := make([][]byte, len(b.Modules))
	sizes := make([]uint32, len(b.Modules))
	for i := range b.Modules {
		sizes[i] = uint32(b.Modules[i].EncodedSize())
	}
	for i, m := range b.Modules {
		var next uint32
		if i+1 < len(sizes) {
			next = sizes[i+1]
		}
		if m.Next != nil {
			next = *m.Next
		}
		encoded[i] = EncodeModule(m, next)
	}

	var size0 uint32
	if len(sizes) > 0 {
		size0 = sizes[0]
	}
	if b.SizeModule0 != nil {
		size0 = *b.SizeModule0
	}

	var buf bytes.Buffer
	be := make([]byte, 4)
	binary.BigEndian.PutUint32(be, b.StartOfFrame)
	buf.Write(be)
	le := binary.LittleEndian
	buf.Write(le.AppendUint32(nil, b.CommandID))
	buf.Write(le.AppendUint64(nil, b.TelegramCounter))
	buf.Write(le.AppendUint64(nil, b.TimeStampTransmit))
	buf.Write(le.AppendUint32(nil, b.Version))
	buf.Write(le.AppendUint32(nil, size0))
	for _, e := range encoded {
		buf.Write(e)
	}
	return buf.Bytes()
}

// TupleSize is the byte size of one (beam, layer) tuple of m.
func (m ModuleSpec) TupleSize() int {
	echo := 0
	if m.EchoFlags&EchoDistance != 0 {
		echo += 2
	}
	if m.EchoFlags&EchoRSSI != 0 {
		echo += 2
	}
	n := m.Echos * echo
	if m.BeamFlags&BeamProperty != 0 {
		n++
	}
	if m.BeamFlags&BeamAzimuth != 0 {
		n += 2
	}
	return n
}

// EncodedSize is the declared module size, including trailing padding.
func (m ModuleSpec) EncodedSize() int {
	return 32 + 28*m.Lines + 12 + m.Beams*m.Lines*m.TupleSize() + m.Trailing
}

// EncodeModule encodes m with the given nextModuleSize.
func EncodeModule(m ModuleSpec, next uint32) []byte {
	le := binary.LittleEndian
	out := make([]byte, 0, m.EncodedSize())
	out = le.AppendUint64(out, m.SegmentCounter)
	out = le.AppendUint64(out, m.FrameNumber)
	out = le.AppendUint32(out, m.SenderID)
	out = le.AppendUint32(out, uint32(m.Lines))
	out = le.AppendUint32(out, uint32(m.Beams))
	out = le.AppendUint32(out, uint32(m.Echos))

	for l := 0; l < m.Lines; l++ {
		out = le.AppendUint64(out, at(m.TimeStampStart, l))
	}
	for l := 0; l < m.Lines; l++ {
		out = le.AppendUint64(out, at(m.TimeStampStop, l))
	}
	for _, arr := range [][]float32{m.Phi, m.ThetaStart, m.ThetaStop} {
		for l := 0; l < m.Lines; l++ {
			out = le.AppendUint32(out, math.Float32bits(at(arr, l)))
		}
	}

	scale := m.Scale
	if scale == 0 {
		scale = 1
	}
	out = le.AppendUint32(out, math.Float32bits(scale))
	out = le.AppendUint32(out, next)
	out = append(out, 0, m.EchoFlags, m.BeamFlags, 0)

	for b := 0; b < m.Beams; b++ {
		for l := 0; l < m.Lines; l++ {
			for e := 0; e < m.Echos; e++ {
				if m.EchoFlags&EchoDistance != 0 {
					out = le.AppendUint16(out, call3(m.Distance, b, l, e))
				}
				if m.EchoFlags&EchoRSSI != 0 {
					out = le.AppendUint16(out, call3(m.RSSI, b, l, e))
				}
			}
			if m.BeamFlags&BeamProperty != 0 {
				var p uint8
				if m.Property != nil {
					p = m.Property(b, l)
				}
				out = append(out, p)
			}
			if m.BeamFlags&BeamAzimuth != 0 {
				var a uint16
				if m.Azimuth != nil {
					a = m.Azimuth(b, l)
				}
				out = le.AppendUint16(out, a)
			}
		}
	}
	out = append(out, make([]byte, m.Trailing)...)

	if m.TruncateTo > 0 && m.TruncateTo < len(out) {
		out = out[:m.TruncateTo]
	}
	return out
}

func at[T any](s []T, i int) T {
	var zero T
	if i < len(s) {
		return s[i]
	}
	return zero
}

func call3(f func(int, int, int) uint16, b, l, e int) uint16 {
	if f == nil {
		return 0
	}
	return f(b, l, e)
}

// Uint32Ptr returns a pointer to v.
func Uint32Ptr(v uint32) *uint32 { return &v }
