package parse

// ContentFlags holds the two per-module bitmasks that shape a tuple.
type ContentFlags struct {
	Echos uint8 // bit0 distance, bit1 RSSI
	Beams uint8 // bit0 property byte, bit1 explicit azimuth
}

func (f ContentFlags) HasDistance() bool { return f.Echos&0x01 != 0 }
func (f ContentFlags) HasRSSI() bool     { return f.Echos&0x02 != 0 }
func (f ContentFlags) HasProperty() bool { return f.Beams&0x01 != 0 }
func (f ContentFlags) HasAzimuth() bool  { return f.Beams&0x02 != 0 }

// EchoSize is the byte size of one echo entry within a tuple.
func (f ContentFlags) EchoSize() int {
	n := 0
	if f.HasDistance() {
		n += DISTANCE_SIZE
	}
	if f.HasRSSI() {
		n += RSSI_SIZE
	}
	return n
}

// BeamPropertySize is 1 when the property byte is present.
func (f ContentFlags) BeamPropertySize() int {
	if f.HasProperty() {
		return PROPERTY_SIZE
	}
	return 0
}

// BeamAngleSize is 2 when the explicit azimuth is present.
func (f ContentFlags) BeamAngleSize() int {
	if f.HasAzimuth() {
		return AZIMUTH_SIZE
	}
	return 0
}

// TupleSize is the byte size of one (beam, layer) tuple.
func (f ContentFlags) TupleSize(numEchos int) int {
	return numEchos*f.EchoSize() + f.BeamPropertySize() + f.BeamAngleSize()
}

// ModuleMetadata describes one module: its geometry, per-layer angles and
// the layout of its measurement block.
type ModuleMetadata struct {
	SegmentCounter uint64
	FrameNumber    uint64
	SenderID       uint32

	NumberOfLines uint32 // L, layers in this module
	NumberOfBeams uint32 // B, beams per layer
	NumberOfEchos uint32 // E, echoes per beam

	// Per-layer arrays, each of length L.
	TimeStampStart []uint64  // microseconds
	TimeStampStop  []uint64  // microseconds
	Phi            []float32 // elevation, radians
	ThetaStart     []float32 // azimuth of beam 0, radians
	ThetaStop      []float32 // azimuth of beam B-1, radians

	DistanceScalingFactor float32
	NextModuleSize        uint32
	Flags                 ContentFlags

	// DataOffset is the offset of the measurement block within the module.
	DataOffset int
}

// Lines, Beams and Echos return the counts as int. ParseModuleMetadata
// guarantees they fit.
func (m *ModuleMetadata) Lines() int { return int(m.NumberOfLines) }
func (m *ModuleMetadata) Beams() int { return int(m.NumberOfBeams) }
func (m *ModuleMetadata) Echos() int { return int(m.NumberOfEchos) }

// ParseModuleMetadata decodes the metadata at the start of module. Offsets
// in returned errors are relative to the module start.
func ParseModuleMetadata(module []byte) (*ModuleMetadata, error) {
	c := cursor{buf: module}
	if c.remaining() < MODULE_PREFIX_SIZE {
		return nil, newError(KindTruncatedModule, 0,
			"need %d bytes for module prefix, have %d", MODULE_PREFIX_SIZE, c.remaining())
	}

	m := &ModuleMetadata{}
	m.SegmentCounter = c.u64()
	m.FrameNumber = c.u64()
	m.SenderID = c.u32()
	m.NumberOfLines = c.u32()
	m.NumberOfBeams = c.u32()
	m.NumberOfEchos = c.u32()

	// Compare in uint64 so a hostile line count cannot overflow.
	need := uint64(m.NumberOfLines)*MODULE_LAYER_ENTRY_SIZE + MODULE_TRAILER_SIZE
	if need > uint64(c.remaining()) {
		return nil, newError(KindTruncatedModule, c.off,
			"%d lines need %d metadata bytes, have %d", m.NumberOfLines, need, c.remaining())
	}

	lines := int(m.NumberOfLines)
	m.TimeStampStart = c.u64s(lines)
	m.TimeStampStop = c.u64s(lines)
	m.Phi = c.f32s(lines)
	m.ThetaStart = c.f32s(lines)
	m.ThetaStop = c.f32s(lines)

	m.DistanceScalingFactor = c.f32()
	m.NextModuleSize = c.u32()
	c.u8() // reserved
	m.Flags.Echos = c.u8()
	m.Flags.Beams = c.u8()
	c.u8() // reserved

	m.DataOffset = c.off
	return m, nil
}
