package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// DecodeFailureStore records per-kind counts of rejected telegrams.
type DecodeFailureStore struct {
	db *sql.DB
}

// NewDecodeFailureStore creates a DecodeFailureStore.
func NewDecodeFailureStore(db *sql.DB) *DecodeFailureStore {
	return &DecodeFailureStore{db: db}
}

// Record stores one row per non-zero count, all stamped with at.
func (s *DecodeFailureStore) Record(ctx context.Context, sensorID string, counts map[string]int64, at time.Time) error {
	kinds := make([]string, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		return nil
	}
	sort.Strings(kinds)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record decode failures: %w", err)
	}
	defer tx.Rollback()
	for _, k := range kinds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lidar_decode_failures (sensor_id, kind, count, recorded_unix_nanos) VALUES (?, ?, ?, ?)`,
			sensorID, k, counts[k], at.UnixNano()); err != nil {
			return fmt.Errorf("record decode failure %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Totals sums the recorded counts per kind since the given time.
func (s *DecodeFailureStore) Totals(ctx context.Context, sensorID string, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, SUM(count) FROM lidar_decode_failures
		WHERE sensor_id = ? AND recorded_unix_nanos >= ?
		GROUP BY kind`, sensorID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("decode failure totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
