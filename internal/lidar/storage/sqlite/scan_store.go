package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
)

// ErrScanNotFound is returned when no scan has the requested ID.
var ErrScanNotFound = errors.New("scan not found")

// ScanRecord is the persisted summary of one flushed scan.
type ScanRecord struct {
	ScanID               string   `json:"scan_id"`
	SensorID             string   `json:"sensor_id"`
	AggregationKey       string   `json:"aggregation_key"`
	KeyValue             uint64   `json:"key_value"`
	FirstTelegramCounter uint64   `json:"first_telegram_counter"`
	LastTelegramCounter  uint64   `json:"last_telegram_counter"`
	TelegramCount        int      `json:"telegram_count"`
	ModuleCount          int      `json:"module_count"`
	PointCount           int      `json:"point_count"`
	RangeMinM            *float64 `json:"range_min_m,omitempty"`
	RangeMaxM            *float64 `json:"range_max_m,omitempty"`
	RangeMeanM           *float64 `json:"range_mean_m,omitempty"`
	RangeStdDevM         *float64 `json:"range_stddev_m,omitempty"`
	StartUnixNanos       int64    `json:"start_unix_nanos"`
	EndUnixNanos         int64    `json:"end_unix_nanos"`
	FlushReason          string   `json:"flush_reason"`
}

// NewScanRecord summarises a scan for storage.
func NewScanRecord(s *l2frames.Scan) ScanRecord {
	rec := ScanRecord{
		ScanID:               s.ScanID,
		SensorID:             s.SensorID,
		AggregationKey:       s.Key.String(),
		KeyValue:             s.KeyValue,
		FirstTelegramCounter: s.FirstTelegramCounter,
		LastTelegramCounter:  s.LastTelegramCounter,
		TelegramCount:        s.TelegramCount,
		ModuleCount:          s.ModuleCount,
		PointCount:           s.PointCount,
		StartUnixNanos:       s.StartWallTime.UnixNano(),
		EndUnixNanos:         s.EndWallTime.UnixNano(),
		FlushReason:          s.Reason,
	}
	if sum := s.Summary(); sum.Count > 0 {
		rec.RangeMinM = &sum.Min
		rec.RangeMaxM = &sum.Max
		rec.RangeMeanM = &sum.Mean
		rec.RangeStdDevM = &sum.StdDev
	}
	return rec
}

// ScanStore provides persistence for scans and, optionally, their points.
type ScanStore struct {
	db            *sql.DB
	persistPoints bool
}

// NewScanStore creates a ScanStore. With persistPoints set, InsertScan also
// writes every point to lidar_scan_points.
func NewScanStore(db *sql.DB, persistPoints bool) *ScanStore {
	return &ScanStore{db: db, persistPoints: persistPoints}
}

// InsertScan stores the scan summary and, when enabled, its points in one
// transaction.
func (s *ScanStore) InsertScan(ctx context.Context, scan *l2frames.Scan) error {
	if scan == nil || scan.ScanID == "" {
		return fmt.Errorf("insert scan: missing scan id")
	}
	rec := NewScanRecord(scan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert scan: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lidar_scans (
			scan_id, sensor_id, aggregation_key, key_value,
			first_telegram_counter, last_telegram_counter,
			telegram_count, module_count, point_count,
			range_min_m, range_max_m, range_mean_m, range_stddev_m,
			start_unix_nanos, end_unix_nanos, flush_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ScanID, rec.SensorID, rec.AggregationKey, int64(rec.KeyValue),
		int64(rec.FirstTelegramCounter), int64(rec.LastTelegramCounter),
		rec.TelegramCount, rec.ModuleCount, rec.PointCount,
		nullFloat(rec.RangeMinM), nullFloat(rec.RangeMaxM), nullFloat(rec.RangeMeanM), nullFloat(rec.RangeStdDevM),
		rec.StartUnixNanos, rec.EndUnixNanos, rec.FlushReason,
	)
	if err != nil {
		return fmt.Errorf("insert scan %s: %w", rec.ScanID, err)
	}

	if s.persistPoints && len(scan.Points) > 0 {
		if err := insertPoints(ctx, tx, rec.ScanID, scan.Points); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert scan %s: commit: %w", rec.ScanID, err)
	}
	return nil
}

func insertPoints(ctx context.Context, tx *sql.Tx, scanID string, points []lidar.Point) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lidar_scan_points (
			scan_id, point_idx, x, y, z, distance_m, rssi, layer, beam, echo, module
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare point insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range points {
		if _, err := stmt.ExecContext(ctx, scanID, i, p.X, p.Y, p.Z, p.Distance, int(p.RSSI), p.Layer, p.Beam, p.Echo, p.Module); err != nil {
			return fmt.Errorf("insert point %d of scan %s: %w", i, scanID, err)
		}
	}
	return nil
}

const scanColumns = `
	scan_id, sensor_id, aggregation_key, key_value,
	first_telegram_counter, last_telegram_counter,
	telegram_count, module_count, point_count,
	range_min_m, range_max_m, range_mean_m, range_stddev_m,
	start_unix_nanos, end_unix_nanos, flush_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ScanRecord, error) {
	var (
		rec                   ScanRecord
		key, first, last      int64
		minM, maxM, mean, std sql.NullFloat64
	)
	err := row.Scan(
		&rec.ScanID, &rec.SensorID, &rec.AggregationKey, &key,
		&first, &last,
		&rec.TelegramCount, &rec.ModuleCount, &rec.PointCount,
		&minM, &maxM, &mean, &std,
		&rec.StartUnixNanos, &rec.EndUnixNanos, &rec.FlushReason,
	)
	if err != nil {
		return rec, err
	}
	rec.KeyValue = uint64(key)
	rec.FirstTelegramCounter = uint64(first)
	rec.LastTelegramCounter = uint64(last)
	rec.RangeMinM = floatPtr(minM)
	rec.RangeMaxM = floatPtr(maxM)
	rec.RangeMeanM = floatPtr(mean)
	rec.RangeStdDevM = floatPtr(std)
	return rec, nil
}

// GetScan returns the scan with the given ID or ErrScanNotFound.
func (s *ScanStore) GetScan(ctx context.Context, scanID string) (*ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM lidar_scans WHERE scan_id = ?`, scanID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", scanID, err)
	}
	return &rec, nil
}

// ListScans returns up to limit scans, newest first. An empty sensorID
// matches every sensor.
func (s *ScanStore) ListScans(ctx context.Context, sensorID string, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + scanColumns + ` FROM lidar_scans`
	args := []any{}
	if sensorID != "" {
		query += ` WHERE sensor_id = ?`
		args = append(args, sensorID)
	}
	query += ` ORDER BY end_unix_nanos DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list scans: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ScanPoints returns the stored points of a scan in arrival order. Scans
// stored without points return an empty slice.
func (s *ScanStore) ScanPoints(ctx context.Context, scanID string) ([]lidar.Point, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x, y, z, distance_m, rssi, layer, beam, echo, module
		FROM lidar_scan_points WHERE scan_id = ? ORDER BY point_idx`, scanID)
	if err != nil {
		return nil, fmt.Errorf("scan points %s: %w", scanID, err)
	}
	defer rows.Close()

	var out []lidar.Point
	for rows.Next() {
		var p lidar.Point
		var rssi int
		if err := rows.Scan(&p.X, &p.Y, &p.Z, &p.Distance, &rssi, &p.Layer, &p.Beam, &p.Echo, &p.Module); err != nil {
			return nil, fmt.Errorf("scan points %s: %w", scanID, err)
		}
		p.RSSI = uint16(rssi)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteScansBefore removes scans (and their points) that ended before
// cutoff and returns how many were removed.
func (s *ScanStore) DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lidar_scans WHERE end_unix_nanos < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete scans: %w", err)
	}
	return res.RowsAffected()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
