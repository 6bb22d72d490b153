package parse

import (
	"sync/atomic"

	"github.com/banshee-data/compact.report/internal/lidar"
)

// Config configures a Decoder.
type Config struct {
	Limits RangeLimits
	// Pose is an optional sensor mounting transform (row-major 4x4).
	Pose *[16]float64
}

// DefaultConfig returns the default range limits and no pose.
func DefaultConfig() Config {
	return Config{Limits: DefaultRangeLimits()}
}

// Module summarises one decoded module of a telegram.
type Module struct {
	Index    int
	Offset   int // telegram offset of the module start
	Size     int // declared size
	Meta     *ModuleMetadata
	Tuples   int // echo tuples read
	Accepted int // tuples that produced a point
}

// Telegram is the decoded content of one datagram. It holds no reference
// to the input buffer, so callers may reuse the buffer immediately.
type Telegram struct {
	Header  FrameHeader
	Modules []Module
	Points  []lidar.Point
}

// FrameNumber returns the frame number of the last decoded module.
func (t *Telegram) FrameNumber() (uint64, bool) {
	if t == nil || len(t.Modules) == 0 {
		return 0, false
	}
	return t.Modules[len(t.Modules)-1].Meta.FrameNumber, true
}

// SenderID returns the sender id of the first decoded module.
func (t *Telegram) SenderID() (uint32, bool) {
	if t == nil || len(t.Modules) == 0 {
		return 0, false
	}
	return t.Modules[0].Meta.SenderID, true
}

// DecodeStats are cumulative decoder counters.
type DecodeStats struct {
	Telegrams uint64
	Complete  uint64
	Modules   uint64
	Tuples    uint64
	Points    uint64
	Failures  map[ErrorKind]uint64
}

// Decoder decodes Compact Format telegrams. Decode is intended for a single
// goroutine; Stats may be read concurrently.
type Decoder struct {
	projector Projector

	telegrams atomic.Uint64
	complete  atomic.Uint64
	modules   atomic.Uint64
	tuples    atomic.Uint64
	points    atomic.Uint64
	failures  [len(kindNames)]atomic.Uint64

	debug          bool
	debugTelegrams int
}

// NewDecoder creates a decoder. Zero range limits fall back to the defaults
// and an identity pose is dropped.
func NewDecoder(cfg Config) *Decoder {
	if cfg.Limits == (RangeLimits{}) {
		cfg.Limits = DefaultRangeLimits()
	}
	if cfg.Pose != nil && *cfg.Pose == lidar.IdentityPose() {
		cfg.Pose = nil
	}
	return &Decoder{
		projector:      Projector{Limits: cfg.Limits, Pose: cfg.Pose},
		debugTelegrams: DEBUG_TELEGRAMS,
	}
}

// SetDebug enables logging of the first telegrams' headers and modules.
func (d *Decoder) SetDebug(enabled bool) { d.debug = enabled }

// SetDebugTelegrams sets how many initial telegrams are logged in debug mode.
// Negative values log none.
func (d *Decoder) SetDebugTelegrams(n int) {
	if n < 0 {
		n = 0
	}
	d.debugTelegrams = n
}

// Limits returns the range limits in use.
func (d *Decoder) Limits() RangeLimits { return d.projector.Limits }

// Decode parses one telegram. On error the returned Telegram, when non-nil,
// holds the header plus every module and point decoded before the failure.
// Header failures other than an unsupported command return a nil Telegram.
func (d *Decoder) Decode(data []byte) (*Telegram, error) {
	n := d.telegrams.Add(1)
	logThis := d.debug && n <= uint64(d.debugTelegrams)

	hdr, err := ParseFrameHeader(data)
	if err != nil {
		d.fail(err)
		if KindOf(err) == KindUnsupportedCommand {
			return &Telegram{Header: hdr}, err
		}
		return nil, err
	}
	if logThis {
		diagf("Telegram %d header: counter=%d version=%d tsTransmit=%d sizeModule0=%d len=%d",
			n, hdr.TelegramCounter, hdr.TelegramVersion, hdr.TimeStampTransmit, hdr.SizeModule0, len(data))
	}

	tel := &Telegram{Header: hdr}
	offset := FRAME_HEADER_SIZE
	size := uint64(hdr.SizeModule0)

	for index := 0; size > 0; index++ {
		if size > uint64(len(data)-offset) {
			tracef("telegram %d: module %d size %d overruns datagram (%d bytes left), chain ends",
				hdr.TelegramCounter, index, size, len(data)-offset)
			break
		}
		end := offset + int(size)
		module := data[offset:end]

		meta, err := ParseModuleMetadata(module)
		if err != nil {
			return tel, d.fail(inModule(err, index, offset))
		}
		block, err := NewMeasurementBlock(module, meta)
		if err != nil {
			return tel, d.fail(inModule(err, index, offset))
		}

		m := Module{Index: index, Offset: offset, Size: int(size), Meta: meta, Tuples: block.Len()}
		tel.Points = d.project(tel.Points, block, meta, hdr.TelegramCounter, index, &m)
		tel.Modules = append(tel.Modules, m)
		d.modules.Add(1)
		d.tuples.Add(uint64(m.Tuples))

		if logThis {
			diagf("Telegram %d module %d: frame=%d segment=%d sender=%d L=%d B=%d E=%d flags=0x%02x/0x%02x scale=%.3f points=%d next=%d",
				n, index, meta.FrameNumber, meta.SegmentCounter, meta.SenderID,
				meta.NumberOfLines, meta.NumberOfBeams, meta.NumberOfEchos,
				meta.Flags.Echos, meta.Flags.Beams, meta.DistanceScalingFactor, m.Accepted, meta.NextModuleSize)
		}

		offset = end
		size = uint64(meta.NextModuleSize)
	}

	d.complete.Add(1)
	return tel, nil
}

func (d *Decoder) project(points []lidar.Point, block *MeasurementBlock, meta *ModuleMetadata, counter uint64, index int, m *Module) []lidar.Point {
	if !meta.Flags.HasDistance() {
		return points
	}
	if cap(points)-len(points) < m.Tuples {
		grown := make([]lidar.Point, len(points), len(points)+m.Tuples)
		copy(grown, points)
		points = grown
	}
	for t := range block.Tuples() {
		pt, ok := d.projector.Project(t, meta)
		if !ok {
			continue
		}
		pt.Module = index
		pt.TelegramCounter = counter
		points = append(points, pt)
		m.Accepted++
	}
	d.points.Add(uint64(m.Accepted))
	return points
}

func (d *Decoder) fail(err error) error {
	kind := KindOf(err)
	if d.failures[kind].Add(1) == 1 {
		opsf("first %s telegram seen: %v", kind, err)
	}
	diagf("decode failed: %v", err)
	return err
}

// ParsePacket decodes data and returns its valid points. Points decoded
// before a failure are returned together with the error.
func (d *Decoder) ParsePacket(data []byte) ([]lidar.Point, error) {
	tel, err := d.Decode(data)
	if tel == nil {
		return nil, err
	}
	return tel.Points, err
}

// Stats returns a copy of the cumulative counters.
func (d *Decoder) Stats() DecodeStats {
	s := DecodeStats{
		Telegrams: d.telegrams.Load(),
		Complete:  d.complete.Load(),
		Modules:   d.modules.Load(),
		Tuples:    d.tuples.Load(),
		Points:    d.points.Load(),
		Failures:  make(map[ErrorKind]uint64),
	}
	for _, k := range FailureKinds() {
		if v := d.failures[k].Load(); v > 0 {
			s.Failures[k] = v
		}
	}
	return s
}
