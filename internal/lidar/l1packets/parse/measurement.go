package parse

import (
	"encoding/binary"
	"iter"
	"math/bits"
)

// MeasurementTuple is one echo of one beam of one layer, as read from the
// wire. Fields whose content flag is clear are zero.
type MeasurementTuple struct {
	Beam  int
	Layer int
	Echo  int

	DistanceRaw uint16 // scaled by DistanceScalingFactor gives millimetres
	RSSI        uint16
	Property    uint8
	AzimuthRaw  uint16

	Flags ContentFlags
}

// MeasurementBlock is a bounds-checked view of a module's measurement data.
type MeasurementBlock struct {
	data      []byte
	meta      *ModuleMetadata
	tupleSize int
	echoSize  int
	size      int
}

// NewMeasurementBlock validates that the block described by meta fits in
// module. Bytes after the block are tolerated.
func NewMeasurementBlock(module []byte, meta *ModuleMetadata) (*MeasurementBlock, error) {
	flags := meta.Flags
	tupleSize := flags.TupleSize(meta.Echos())

	hi, samples := bits.Mul64(uint64(meta.NumberOfBeams), uint64(meta.NumberOfLines))
	if hi != 0 {
		return nil, newError(KindInconsistentLayout, meta.DataOffset,
			"%d beams x %d lines overflows", meta.NumberOfBeams, meta.NumberOfLines)
	}
	if samples > 0 && tupleSize == 0 {
		return nil, newError(KindInconsistentLayout, meta.DataOffset,
			"%d samples with empty tuple (echos=0x%02x beams=0x%02x E=%d)",
			samples, flags.Echos, flags.Beams, meta.NumberOfEchos)
	}
	hi, size := bits.Mul64(samples, uint64(tupleSize))
	if hi != 0 || size > uint64(len(module)) {
		return nil, newError(KindTruncatedMeasurement, meta.DataOffset,
			"%d samples x %d bytes exceed module", samples, tupleSize)
	}

	available := len(module) - meta.DataOffset
	if int(size) > available {
		return nil, newError(KindTruncatedMeasurement, meta.DataOffset,
			"need %d bytes (%d beams x %d lines x %d), have %d",
			size, meta.NumberOfBeams, meta.NumberOfLines, tupleSize, available)
	}
	if extra := available - int(size); extra > 0 {
		tracef("module frame=%d has %d trailing bytes after measurement block", meta.FrameNumber, extra)
	}

	return &MeasurementBlock{
		data:      module,
		meta:      meta,
		tupleSize: tupleSize,
		echoSize:  flags.EchoSize(),
		size:      int(size),
	}, nil
}

// TupleSize returns the byte size of one (beam, layer) tuple.
func (b *MeasurementBlock) TupleSize() int { return b.tupleSize }

// Size returns the byte size of the measurement block.
func (b *MeasurementBlock) Size() int { return b.size }

// Len returns the number of echo tuples Tuples will yield.
func (b *MeasurementBlock) Len() int {
	if b.echoSize == 0 {
		return 0
	}
	return b.meta.Beams() * b.meta.Lines() * b.meta.Echos()
}

// tupleOffset returns the module offset of the (beam, layer) tuple.
func (b *MeasurementBlock) tupleOffset(beam, layer int) int {
	return b.meta.DataOffset + (beam*b.meta.Lines()+layer)*b.tupleSize
}

// Tuples yields every echo in beam-major order: all layers of beam 0, then
// all layers of beam 1, and so on, with echoes innermost. Nothing is
// yielded when the module carries neither distance nor RSSI.
func (b *MeasurementBlock) Tuples() iter.Seq[MeasurementTuple] {
	return func(yield func(MeasurementTuple) bool) {
		if b.echoSize == 0 {
			return
		}
		flags := b.meta.Flags
		lines, beams, echos := b.meta.Lines(), b.meta.Beams(), b.meta.Echos()
		le := binary.LittleEndian

		for beam := 0; beam < beams; beam++ {
			for layer := 0; layer < lines; layer++ {
				base := b.tupleOffset(beam, layer)

				var property uint8
				var azimuth uint16
				tail := base + echos*b.echoSize
				if flags.HasProperty() {
					property = b.data[tail]
					tail += PROPERTY_SIZE
				}
				if flags.HasAzimuth() {
					azimuth = le.Uint16(b.data[tail:])
				}

				for echo := 0; echo < echos; echo++ {
					off := base + echo*b.echoSize
					t := MeasurementTuple{
						Beam:       beam,
						Layer:      layer,
						Echo:       echo,
						Property:   property,
						AzimuthRaw: azimuth,
						Flags:      flags,
					}
					if flags.HasDistance() {
						t.DistanceRaw = le.Uint16(b.data[off:])
						off += DISTANCE_SIZE
					}
					if flags.HasRSSI() {
						t.RSSI = le.Uint16(b.data[off:])
					}
					if !yield(t) {
						return
					}
				}
			}
		}
	}
}
