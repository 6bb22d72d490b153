package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
)

// ScanCounter is satisfied by *lidar.PacketStats.
type ScanCounter interface {
	AddScan()
}

// ScanPipelineConfig lists the sinks a flushed scan is delivered to. Every
// sink is optional.
type ScanPipelineConfig struct {
	Persister ScanPersister
	Publisher ScanPublisher
	Dumper    ScanDumper
	Observer  ScanObserver
	Stats     ScanCounter

	// PersistTimeout bounds each InsertScan call (default 5s).
	PersistTimeout time.Duration
}

// NewScanCallback returns the ScanBuilder callback. The builder runs it on
// its callback worker, one scan at a time. Sink errors are logged and never
// stop delivery to the remaining sinks.
func (cfg *ScanPipelineConfig) NewScanCallback() func(*l2frames.Scan) {
	persister := cfg.Persister
	if isNilInterface(persister) {
		persister = nil
	}
	publisher := cfg.Publisher
	if isNilInterface(publisher) {
		publisher = nil
	}
	dumper := cfg.Dumper
	if isNilInterface(dumper) {
		dumper = nil
	}
	observer := cfg.Observer
	if isNilInterface(observer) {
		observer = nil
	}
	stats := cfg.Stats
	if isNilInterface(stats) {
		stats = nil
	}
	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return func(scan *l2frames.Scan) {
		if scan == nil {
			return
		}
		tracef("Completed %s (reason=%s)", scan, scan.Reason)

		if stats != nil {
			stats.AddScan()
		}
		if observer != nil {
			observer.RecordScan(scan)
		}
		if publisher != nil {
			publisher.Publish(scan)
		}
		if persister != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := persister.InsertScan(ctx, scan); err != nil {
				opsf("failed to persist %s: %v", scan, err)
			}
			cancel()
		}
		if dumper != nil {
			path, err := dumper.WriteJSON(scan)
			if err != nil {
				opsf("failed to dump %s: %v", scan, err)
			} else {
				diagf("dumped %s to %s", scan, path)
			}
		}
	}
}
