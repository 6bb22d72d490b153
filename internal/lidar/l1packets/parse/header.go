package parse

import "encoding/binary"

// FrameHeader is the fixed 32-byte telegram header.
type FrameHeader struct {
	StartOfFrame      uint32 // Always START_OF_FRAME on valid telegrams
	CommandID         uint32 // COMMAND_ID_MEASUREMENT for scan data
	TelegramCounter   uint64 // Incremented by the sensor per telegram sent
	TimeStampTransmit uint64 // Sensor transmit time in microseconds
	TelegramVersion   uint32 // Compact Format version, currently 1 or 4
	SizeModule0       uint32 // Byte size of the first module, 0 for none
}

// ParseFrameHeader decodes and validates the frame header at the start of
// data. On KindUnsupportedCommand the decoded header is still returned so
// callers can log its counter.
func ParseFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < FRAME_HEADER_SIZE {
		return FrameHeader{}, newError(KindTooShort, 0,
			"need %d bytes, have %d", FRAME_HEADER_SIZE, len(data))
	}

	sof := binary.BigEndian.Uint32(data[0:4])
	if sof != START_OF_FRAME {
		return FrameHeader{}, newError(KindBadMagic, 0,
			"expected 0x%08X, got 0x%08X", uint32(START_OF_FRAME), sof)
	}

	c := cursor{buf: data, off: 4}
	h := FrameHeader{StartOfFrame: sof}
	h.CommandID = c.u32()
	h.TelegramCounter = c.u64()
	h.TimeStampTransmit = c.u64()
	h.TelegramVersion = c.u32()
	h.SizeModule0 = c.u32()

	if h.CommandID != COMMAND_ID_MEASUREMENT {
		return h, newError(KindUnsupportedCommand, 4,
			"command id %d, want %d", h.CommandID, COMMAND_ID_MEASUREMENT)
	}
	return h, nil
}

// IsCompactTelegram reports whether data starts with a Compact Format
// start-of-frame marker. Used to pick telegrams out of mixed captures.
func IsCompactTelegram(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data) == START_OF_FRAME
}
