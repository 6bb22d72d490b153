package l2frames

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
	"github.com/banshee-data/compact.report/internal/timeutil"
)

// DEFAULT_SCAN_QUEUE_SIZE bounds scans waiting for the callback worker.
const DEFAULT_SCAN_QUEUE_SIZE = 8

// Global registry for ScanBuilder instances keyed by SensorID.
var (
	sbRegistry   = map[string]*ScanBuilder{}
	sbRegistryMu = &sync.RWMutex{}
)

// RegisterScanBuilder registers a ScanBuilder for a sensor ID.
func RegisterScanBuilder(sensorID string, sb *ScanBuilder) {
	if sensorID == "" || sb == nil {
		return
	}
	sbRegistryMu.Lock()
	defer sbRegistryMu.Unlock()
	sbRegistry[sensorID] = sb
}

// GetScanBuilder returns a registered ScanBuilder or nil.
func GetScanBuilder(sensorID string) *ScanBuilder {
	sbRegistryMu.RLock()
	defer sbRegistryMu.RUnlock()
	return sbRegistry[sensorID]
}

// UnregisterScanBuilder removes sensorID from the registry.
func UnregisterScanBuilder(sensorID string) {
	sbRegistryMu.Lock()
	defer sbRegistryMu.Unlock()
	delete(sbRegistry, sensorID)
}

// ScanBuilderConfig configures a ScanBuilder.
type ScanBuilderConfig struct {
	SensorID     string
	Key          AggregationKey
	ScanCallback func(*Scan)    // invoked for each flushed scan, one at a time
	QueueSize    int            // scans buffered for the callback (default: 8)
	Clock        timeutil.Clock // default: timeutil.RealClock
}

// ScanBuilderStats are cumulative aggregator counters.
type ScanBuilderStats struct {
	Telegrams     uint64 `json:"telegrams"`      // telegrams that carried a key
	Ignored       uint64 `json:"ignored"`        // telegrams without a decoded module
	Scans         uint64 `json:"scans"`          // scans flushed
	Dropped       uint64 `json:"dropped"`        // scans dropped because the callback queue was full
	PendingPoints int    `json:"pending_points"` // points in the scan being built
}

// ScanBuilder keeps at most one scan in progress. A telegram whose key
// differs from the current scan's flushes that scan and starts the next
// one. There is no timeout: the last scan is only emitted by Flush.
type ScanBuilder struct {
	sensorID string
	key      AggregationKey
	clock    timeutil.Clock

	scanCallback func(*Scan)
	scanCh       chan *Scan    // serialises scan callback invocations
	scanDone     chan struct{} // closed when scanCallbackWorker exits

	mu      sync.Mutex
	current *Scan
	closed  bool

	telegrams atomic.Uint64
	ignored   atomic.Uint64
	scans     atomic.Uint64
	dropped   atomic.Uint64
}

// NewScanBuilder creates a ScanBuilder. When a callback is configured a
// worker goroutine delivers scans to it; call Close to stop the worker.
func NewScanBuilder(config ScanBuilderConfig) *ScanBuilder {
	if config.QueueSize <= 0 {
		config.QueueSize = DEFAULT_SCAN_QUEUE_SIZE
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	sb := &ScanBuilder{
		sensorID:     config.SensorID,
		key:          config.Key,
		clock:        config.Clock,
		scanCallback: config.ScanCallback,
	}
	if sb.scanCallback != nil {
		sb.scanCh = make(chan *Scan, config.QueueSize)
		sb.scanDone = make(chan struct{})
		go sb.scanCallbackWorker()
	}
	return sb
}

func (sb *ScanBuilder) scanCallbackWorker() {
	defer close(sb.scanDone)
	for scan := range sb.scanCh {
		sb.scanCallback(scan)
	}
}

// Key returns the aggregation key in use.
func (sb *ScanBuilder) Key() AggregationKey { return sb.key }

// SensorID returns the sensor the builder was created for.
func (sb *ScanBuilder) SensorID() string { return sb.sensorID }

// HandleTelegram implements network.TelegramHandler.
func (sb *ScanBuilder) HandleTelegram(tel *parse.Telegram) {
	sb.AddTelegram(tel)
}

// AddTelegram appends the telegram's points to the current scan, first
// flushing the current scan if the telegram's key differs. It returns the
// flushed scan, or nil. Appending and flushing happen under one lock.
func (sb *ScanBuilder) AddTelegram(tel *parse.Telegram) *Scan {
	value, ok := sb.key.Extract(tel)
	if !ok {
		sb.ignored.Add(1)
		return nil
	}
	sb.telegrams.Add(1)
	now := sb.clock.Now()

	sb.mu.Lock()
	defer sb.mu.Unlock()

	var flushed *Scan
	if sb.current != nil && sb.current.KeyValue != value {
		tracef("sensor %s: %s %d -> %d, flushing %d points",
			sb.sensorID, sb.key, sb.current.KeyValue, value, sb.current.PointCount)
		flushed = sb.finishLocked(ReasonKeyChange)
	}
	if sb.current == nil {
		sb.current = &Scan{
			SensorID:             sb.sensorID,
			Key:                  sb.key,
			KeyValue:             value,
			FirstTelegramCounter: tel.Header.TelegramCounter,
			StartWallTime:        now,
		}
	}

	s := sb.current
	s.Points = append(s.Points, tel.Points...)
	s.PointCount = len(s.Points)
	s.TelegramCount++
	s.ModuleCount += len(tel.Modules)
	s.LastTelegramCounter = tel.Header.TelegramCounter
	s.EndWallTime = now
	return flushed
}

// Flush emits the scan in progress, if any, and returns it.
func (sb *ScanBuilder) Flush() *Scan {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.current == nil {
		return nil
	}
	return sb.finishLocked(ReasonFlush)
}

// Reset discards the scan in progress without emitting it. Call it when
// switching data sources.
func (sb *ScanBuilder) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.current != nil {
		diagf("sensor %s: discarding scan %s=%d with %d points",
			sb.sensorID, sb.key, sb.current.KeyValue, sb.current.PointCount)
	}
	sb.current = nil
}

// finishLocked detaches the current scan and queues it for the callback.
// The caller holds sb.mu.
func (sb *ScanBuilder) finishLocked(reason string) *Scan {
	s := sb.current
	sb.current = nil
	s.ScanID = uuid.NewString()
	s.Reason = reason
	sb.scans.Add(1)

	if sb.scanCh != nil && !sb.closed {
		select {
		case sb.scanCh <- s:
		default:
			// Never block the receive path on a slow sink.
			sb.dropped.Add(1)
			opsf("sensor %s: dropped %s, callback queue full", sb.sensorID, s)
		}
	}
	return s
}

// Stats returns a snapshot of the builder's counters.
func (sb *ScanBuilder) Stats() ScanBuilderStats {
	sb.mu.Lock()
	pending := 0
	if sb.current != nil {
		pending = sb.current.PointCount
	}
	sb.mu.Unlock()
	return ScanBuilderStats{
		Telegrams:     sb.telegrams.Load(),
		Ignored:       sb.ignored.Load(),
		Scans:         sb.scans.Load(),
		Dropped:       sb.dropped.Load(),
		PendingPoints: pending,
	}
}

// Close stops the callback worker after it drains queued scans. The scan
// in progress is not flushed. Close is safe to call more than once.
func (sb *ScanBuilder) Close() {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return
	}
	sb.closed = true
	if sb.scanCh != nil {
		close(sb.scanCh)
	}
	sb.mu.Unlock()

	if sb.scanDone != nil {
		<-sb.scanDone
	}
}
