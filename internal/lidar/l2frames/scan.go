package l2frames

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
)

// AggregationKey selects the counter that identifies a scan.
type AggregationKey int

const (
	// KeyFrameNumber groups by the module frame number, which identifies the
	// physical sweep.
	KeyFrameNumber AggregationKey = iota
	// KeyTelegramCounter groups by the header telegram counter.
	KeyTelegramCounter
)

func (k AggregationKey) String() string {
	switch k {
	case KeyFrameNumber:
		return "frame_number"
	case KeyTelegramCounter:
		return "telegram_counter"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

// ParseAggregationKey accepts "frame_number" or "telegram_counter". The
// empty string selects KeyFrameNumber.
func ParseAggregationKey(s string) (AggregationKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "frame_number", "frame":
		return KeyFrameNumber, nil
	case "telegram_counter", "telegram", "counter":
		return KeyTelegramCounter, nil
	}
	return 0, fmt.Errorf("unknown aggregation key %q (want frame_number or telegram_counter)", s)
}

// Extract returns the key value of a telegram. Telegrams without any
// decoded module carry no key.
func (k AggregationKey) Extract(tel *parse.Telegram) (uint64, bool) {
	if tel == nil || len(tel.Modules) == 0 {
		return 0, false
	}
	if k == KeyTelegramCounter {
		return tel.Header.TelegramCounter, true
	}
	return tel.FrameNumber()
}

// Flush reasons recorded on Scan.Reason.
const (
	ReasonKeyChange = "key_change"
	ReasonFlush     = "flush"
)

// Scan is one complete sweep aggregated across the telegrams that share a
// key value. Points keep arrival order.
type Scan struct {
	ScanID   string
	SensorID string
	Key      AggregationKey
	KeyValue uint64

	FirstTelegramCounter uint64
	LastTelegramCounter  uint64
	TelegramCount        int
	ModuleCount          int

	Points     []lidar.Point
	PointCount int

	StartWallTime time.Time // wall-clock time of the first telegram
	EndWallTime   time.Time // wall-clock time of the last telegram
	Reason        string
}

// Summary computes range statistics over the scan's points.
func (s *Scan) Summary() lidar.RangeSummary {
	if s == nil {
		return lidar.RangeSummary{}
	}
	return lidar.SummariseRanges(s.Points)
}

// Duration is the wall-clock span between the first and last telegram.
func (s *Scan) Duration() time.Duration {
	return s.EndWallTime.Sub(s.StartWallTime)
}

func (s *Scan) String() string {
	return fmt.Sprintf("scan %s sensor=%s %s=%d telegrams=%d modules=%d points=%d",
		s.ScanID, s.SensorID, s.Key, s.KeyValue, s.TelegramCount, s.ModuleCount, s.PointCount)
}
