// Package parse decodes SICK Compact Format measurement telegrams into
// sensor-frame points.
package parse

/*
SICK Compact Format Telegram Decoder

Scanners such as the multiScan100 and picoScan100 emit one UDP datagram per
telegram. A telegram is a fixed 32-byte frame header followed by a chain of
variable-size modules. Each module describes a block of scan lines (layers)
and carries every beam of every layer, with one or more echoes per beam.

TELEGRAM STRUCTURE:
├── Frame Header (32 bytes)
│   └── SOF 0x02020202 (big-endian) + commandId + telegramCounter +
│       timeStampTransmit + telegramVersion + sizeModule0 (little-endian)
└── Module 0 .. Module N (sizeModule0, then each module's nextModuleSize)
    ├── Metadata
    │   ├── segmentCounter, frameNumber, senderId (16+4 bytes)
    │   ├── numberOfLines L, numberOfBeams B, numberOfEchos E (12 bytes)
    │   ├── per-layer arrays: tsStart[L] u64, tsStop[L] u64,
    │   │   phi[L] f32, thetaStart[L] f32, thetaStop[L] f32 (28L bytes)
    │   └── distanceScalingFactor f32, nextModuleSize u32,
    │       reserved, dataContentEchos, dataContentBeams, reserved (12 bytes)
    └── Measurement Data (B × L tuples, beam-major)
        └── Tuple: E × [distance u16][rssi u16] + [property u8] + [azimuth u16]

Every multi-byte field after the start-of-frame marker is little-endian.

The two content bitmasks decide the tuple layout:
  dataContentEchos bit0  distance present (2 bytes per echo)
  dataContentEchos bit1  RSSI present (2 bytes per echo)
  dataContentBeams bit0  beam property byte present (1 byte per tuple)
  dataContentBeams bit1  explicit azimuth present (2 bytes per tuple)

DECODER ARCHITECTURE:
1. Header validation (length, magic, command)
2. Module chain walk: size = sizeModule0, then nextModuleSize until 0
3. Per module: metadata parse, measurement block bounds check
4. Beam-major tuple iteration (beam, then layer, then echo)
5. Polar to Cartesian projection and range filter

Decoding never panics on malformed input. Every read is bounds checked and
failures surface as *DecodeError. Points projected before a failure are
kept; decoding stops at the first failed module. A module whose declared
size runs past the end of the datagram ends the chain without an error, as
the scanner pads the final nextModuleSize on some firmware.
*/

// Compact Format wire constants.
const (
	START_OF_FRAME          = 0x02020202 // Frame marker, the only big-endian field
	COMMAND_ID_MEASUREMENT  = 1          // Measurement data telegram
	FRAME_HEADER_SIZE       = 32         // SOF(4) + cmd(4) + counter(8) + tsTransmit(8) + version(4) + sizeModule0(4)
	MODULE_PREFIX_SIZE      = 32         // segmentCounter(8) + frameNumber(8) + senderId(4) + L(4) + B(4) + E(4)
	MODULE_LAYER_ENTRY_SIZE = 28         // tsStart(8) + tsStop(8) + phi(4) + thetaStart(4) + thetaStop(4)
	MODULE_TRAILER_SIZE     = 12         // scale(4) + nextModuleSize(4) + 4 flag/reserved bytes

	DISTANCE_SIZE = 2 // u16 per echo
	RSSI_SIZE     = 2 // u16 per echo
	PROPERTY_SIZE = 1 // u8 per tuple
	AZIMUTH_SIZE  = 2 // u16 per tuple

	// Explicit azimuth encoding: theta = (raw - AZIMUTH_CENTER) / AZIMUTH_SCALE radians.
	AZIMUTH_CENTER = 16384
	AZIMUTH_SCALE  = 5215.0

	// Raw distances are millimetres after applying distanceScalingFactor.
	MILLIMETRES_PER_METRE = 1000.0

	// Default validity window in metres, both bounds exclusive.
	DEFAULT_MIN_RANGE = 0.1
	DEFAULT_MAX_RANGE = 120.0

	// Debug logging control
	DEBUG_TELEGRAMS = 10 // Initial telegrams logged when debug is enabled
)
