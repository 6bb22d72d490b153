package pipeline

import (
	"context"
	"reflect"
	"time"

	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
)

// ScanPersister stores flushed scans (storage/sqlite.ScanStore).
type ScanPersister interface {
	InsertScan(ctx context.Context, scan *l2frames.Scan) error
}

// ScanPruner deletes stored scans older than a cutoff.
type ScanPruner interface {
	DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScanPublisher sends scans to live subscribers (visualiser.Publisher).
type ScanPublisher interface {
	Publish(scan *l2frames.Scan)
}

// ScanDumper writes a scan to a file and returns its path (export.Exporter).
type ScanDumper interface {
	WriteJSON(scan *l2frames.Scan) (string, error)
}

// ScanObserver is told about every scan (monitor.WebServer).
type ScanObserver interface {
	RecordScan(scan *l2frames.Scan)
}

// ScanObserverFunc adapts a function to ScanObserver.
type ScanObserverFunc func(scan *l2frames.Scan)

// RecordScan calls f(scan).
func (f ScanObserverFunc) RecordScan(scan *l2frames.Scan) { f(scan) }

// FailureRecorder persists per-kind decode failure counts.
type FailureRecorder interface {
	Record(ctx context.Context, sensorID string, counts map[string]int64, at time.Time) error
}

// isNilInterface reports whether i is nil or wraps a nil pointer, so that
// a typed nil sink passed through a config struct counts as absent.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
