package sqlite

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/compact.report/internal/db"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database.DB
}

func testScan(id string, key uint64, end time.Time, distances ...float64) *l2frames.Scan {
	points := make([]lidar.Point, len(distances))
	for i, d := range distances {
		points[i] = lidar.Point{X: d, Distance: d, RSSI: uint16(100 + i), Layer: i % 2, Beam: i, Module: 0}
	}
	return &l2frames.Scan{
		ScanID:               id,
		SensorID:             "compact-1",
		Key:                  l2frames.KeyFrameNumber,
		KeyValue:             key,
		FirstTelegramCounter: 10,
		LastTelegramCounter:  math.MaxUint64,
		TelegramCount:        2,
		ModuleCount:          4,
		Points:               points,
		PointCount:           len(points),
		StartWallTime:        end.Add(-50 * time.Millisecond),
		EndWallTime:          end,
		Reason:               l2frames.ReasonKeyChange,
	}
}

func TestScanStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewScanStore(setupTestDB(t), false)
	end := time.Unix(1700000000, 0)

	require.NoError(t, store.InsertScan(ctx, testScan("a", 5, end, 1, 2, 3)))

	got, err := store.GetScan(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "frame_number", got.AggregationKey)
	assert.Equal(t, uint64(5), got.KeyValue)
	assert.Equal(t, uint64(math.MaxUint64), got.LastTelegramCounter, "uint64 survives the int64 column")
	assert.Equal(t, 3, got.PointCount)
	require.NotNil(t, got.RangeMeanM)
	assert.InDelta(t, 2.0, *got.RangeMeanM, 1e-9)
	assert.Equal(t, end.UnixNano(), got.EndUnixNanos)
	assert.Equal(t, "key_change", got.FlushReason)

	points, err := store.ScanPoints(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, points, "points are not persisted by default")

	_, err = store.GetScan(ctx, "missing")
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestScanStore_EmptyScanHasNoRangeStats(t *testing.T) {
	ctx := context.Background()
	store := NewScanStore(setupTestDB(t), true)
	require.NoError(t, store.InsertScan(ctx, testScan("empty", 1, time.Unix(1, 0))))

	got, err := store.GetScan(ctx, "empty")
	require.NoError(t, err)
	assert.Nil(t, got.RangeMinM)
	assert.Nil(t, got.RangeMeanM)
}

func TestScanStore_PersistPoints(t *testing.T) {
	ctx := context.Background()
	store := NewScanStore(setupTestDB(t), true)
	scan := testScan("p", 7, time.Unix(100, 0), 4.5, 6.25)
	require.NoError(t, store.InsertScan(ctx, scan))

	points, err := store.ScanPoints(ctx, "p")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 6.25, points[1].Distance)
	assert.Equal(t, uint16(101), points[1].RSSI)
	assert.Equal(t, 1, points[1].Beam)
}

func TestScanStore_InsertRejectsMissingID(t *testing.T) {
	store := NewScanStore(setupTestDB(t), false)
	assert.Error(t, store.InsertScan(context.Background(), nil))
	assert.Error(t, store.InsertScan(context.Background(), &l2frames.Scan{}))
}

func TestScanStore_DuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	store := NewScanStore(setupTestDB(t), true)
	require.NoError(t, store.InsertScan(ctx, testScan("dup", 1, time.Unix(1, 0), 1)))
	assert.Error(t, store.InsertScan(ctx, testScan("dup", 1, time.Unix(1, 0), 1)))

	// The failed transaction left no extra points behind.
	points, err := store.ScanPoints(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestScanStore_ListScans(t *testing.T) {
	ctx := context.Background()
	store := NewScanStore(setupTestDB(t), false)
	base := time.Unix(1000, 0)
	for i, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, store.InsertScan(ctx, testScan(id, uint64(i), base.Add(time.Duration(i)*time.Second), 1)))
	}
	other := testScan("o1", 9, base, 1)
	other.SensorID = "other"
	require.NoError(t, store.InsertScan(ctx, other))

	got, err := store.ListScans(ctx, "compact-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s3", got[0].ScanID)
	assert.Equal(t, "s2", got[1].ScanID)

	all, err := store.ListScans(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestScanStore_DeleteScansBeforeCascades(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	store := NewScanStore(database, true)
	require.NoError(t, store.InsertScan(ctx, testScan("old", 1, time.Unix(10, 0), 1, 2)))
	require.NoError(t, store.InsertScan(ctx, testScan("new", 2, time.Unix(20, 0), 1)))

	n, err := store.DeleteScansBefore(ctx, time.Unix(15, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var points int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM lidar_scan_points`).Scan(&points))
	assert.Equal(t, 1, points)
}

func TestDecodeFailureStore(t *testing.T) {
	ctx := context.Background()
	store := NewDecodeFailureStore(setupTestDB(t))

	require.NoError(t, store.Record(ctx, "s", map[string]int64{"bad_magic": 2, "too_short": 0}, time.Unix(10, 0)))
	require.NoError(t, store.Record(ctx, "s", map[string]int64{"bad_magic": 3, "truncated_module": 1}, time.Unix(20, 0)))
	require.NoError(t, store.Record(ctx, "s", nil, time.Unix(30, 0)))

	totals, err := store.Totals(ctx, "s", time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"bad_magic": 5, "truncated_module": 1}, totals)

	recent, err := store.Totals(ctx, "s", time.Unix(15, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), recent["bad_magic"])
	assert.NotContains(t, recent, "too_short")
}
