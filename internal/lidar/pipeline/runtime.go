package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/network"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/timeutil"
)

// RuntimeConfig configures a SensorRuntime.
type RuntimeConfig struct {
	SensorID string
	Limits   parse.RangeLimits // zero value uses the decoder defaults
	Pose     *[16]float64
	Key      l2frames.AggregationKey
	// ScanQueueSize bounds scans waiting for the sinks.
	ScanQueueSize int
	Debug         bool
	// DebugTelegrams overrides how many initial telegrams are logged in
	// debug mode; zero keeps the decoder default.
	DebugTelegrams int

	Sinks ScanPipelineConfig
	Stats *lidar.PacketStats

	// Maintenance: decode failure counts are recorded and old scans pruned
	// every MaintenanceInterval. Retention <= 0 disables pruning.
	Failures            FailureRecorder
	Pruner              ScanPruner
	Retention           time.Duration
	MaintenanceInterval time.Duration

	Clock timeutil.Clock
}

// SensorRuntime bundles the per-sensor decoder, aggregator and counters.
// The ScanBuilder is also published in the l2frames registry under
// SensorID until Close.
type SensorRuntime struct {
	SensorID string
	Decoder  *parse.Decoder
	Builder  *l2frames.ScanBuilder
	Stats    *lidar.PacketStats

	failures  FailureRecorder
	pruner    ScanPruner
	retention time.Duration
	interval  time.Duration
	clock     timeutil.Clock

	lastFailures map[parse.ErrorKind]uint64
}

// NewSensorRuntime builds the decoder and the scan aggregator.
func NewSensorRuntime(cfg RuntimeConfig) (*SensorRuntime, error) {
	if cfg.SensorID == "" {
		return nil, fmt.Errorf("sensor id is required")
	}
	limits := cfg.Limits
	if limits == (parse.RangeLimits{}) {
		limits = parse.DefaultRangeLimits()
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid range limits: %w", err)
	}
	stats := cfg.Stats
	if stats == nil {
		stats = lidar.NewPacketStats()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := cfg.MaintenanceInterval
	if interval <= 0 {
		interval = time.Minute
	}

	decoder := parse.NewDecoder(parse.Config{Limits: limits, Pose: cfg.Pose})
	decoder.SetDebug(cfg.Debug)
	if cfg.DebugTelegrams != 0 {
		decoder.SetDebugTelegrams(cfg.DebugTelegrams)
	}

	sinks := cfg.Sinks
	if isNilInterface(sinks.Stats) {
		sinks.Stats = stats
	}
	builder := l2frames.NewScanBuilder(l2frames.ScanBuilderConfig{
		SensorID:     cfg.SensorID,
		Key:          cfg.Key,
		ScanCallback: sinks.NewScanCallback(),
		QueueSize:    cfg.ScanQueueSize,
		Clock:        clock,
	})
	l2frames.RegisterScanBuilder(cfg.SensorID, builder)

	rt := &SensorRuntime{
		SensorID:     cfg.SensorID,
		Decoder:      decoder,
		Builder:      builder,
		Stats:        stats,
		failures:     cfg.Failures,
		pruner:       cfg.Pruner,
		retention:    cfg.Retention,
		interval:     interval,
		clock:        clock,
		lastFailures: make(map[parse.ErrorKind]uint64),
	}
	if isNilInterface(rt.failures) {
		rt.failures = nil
	}
	if isNilInterface(rt.pruner) {
		rt.pruner = nil
	}
	diagf("sensor %s: range (%.2f, %.2f) m, aggregating by %s", cfg.SensorID, limits.Min, limits.Max, cfg.Key)
	return rt, nil
}

// ListenerConfig returns a UDP listener configuration that feeds this
// runtime's decoder and aggregator.
func (rt *SensorRuntime) ListenerConfig(address string, rcvBuf int, forwarder *network.PacketForwarder, logInterval time.Duration) network.UDPListenerConfig {
	return network.UDPListenerConfig{
		Address:     address,
		RcvBuf:      rcvBuf,
		LogInterval: logInterval,
		Stats:       rt.Stats,
		Forwarder:   forwarder,
		Decoder:     rt.Decoder,
		Handler:     rt.Builder,
	}
}

// ReplayPCAP replays a capture through the decoder and aggregator, then
// flushes the last scan, which no later telegram would otherwise close.
func (rt *SensorRuntime) ReplayPCAP(ctx context.Context, path string, cfg network.PCAPReplayConfig) (network.ReplayResult, error) {
	cfg.Stats = rt.Stats
	cfg.Decoder = rt.Decoder
	cfg.Handler = rt.Builder
	res, err := network.ReplayPCAP(ctx, path, cfg)
	if scan := rt.Builder.Flush(); scan != nil {
		diagf("end of capture: flushed %s", scan)
	}
	return res, err
}

// Run performs periodic maintenance until ctx is cancelled. A final
// maintenance pass runs on the way out.
func (rt *SensorRuntime) Run(ctx context.Context) error {
	ticker := rt.clock.NewTicker(rt.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rt.maintain(context.Background())
			return ctx.Err()
		case <-ticker.C():
			rt.maintain(ctx)
		}
	}
}

func (rt *SensorRuntime) maintain(ctx context.Context) {
	now := rt.clock.Now()
	if rt.failures != nil {
		if counts := rt.failureDelta(); len(counts) > 0 {
			if err := rt.failures.Record(ctx, rt.SensorID, counts, now); err != nil {
				opsf("sensor %s: failed to record decode failures: %v", rt.SensorID, err)
			}
		}
	}
	if rt.pruner != nil && rt.retention > 0 {
		n, err := rt.pruner.DeleteScansBefore(ctx, now.Add(-rt.retention))
		if err != nil {
			opsf("sensor %s: failed to prune scans: %v", rt.SensorID, err)
		} else if n > 0 {
			diagf("sensor %s: pruned %d scans older than %s", rt.SensorID, n, rt.retention)
		}
	}
}

// failureDelta returns decode failures since the previous call, by kind name.
func (rt *SensorRuntime) failureDelta() map[string]int64 {
	current := rt.Decoder.Stats().Failures
	delta := make(map[string]int64)
	for kind, n := range current {
		if d := n - rt.lastFailures[kind]; d > 0 {
			delta[kind.String()] = int64(d)
		}
		rt.lastFailures[kind] = n
	}
	return delta
}

// Close stops the scan callback worker after queued scans are delivered.
// The scan in progress is discarded.
func (rt *SensorRuntime) Close() {
	rt.Builder.Close()
	l2frames.UnregisterScanBuilder(rt.SensorID)
}
