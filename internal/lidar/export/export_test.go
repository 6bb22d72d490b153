package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/compact.report/internal/fsutil"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/timeutil"
)

func sampleScan() *l2frames.Scan {
	points := []lidar.Point{
		{X: 2, Y: 0, Z: 0, Distance: 2, RSSI: 120, Layer: 0, Beam: 0},
		{X: 0, Y: 3, Z: 1, Distance: 3.16, RSSI: 90, Layer: 1, Beam: 1, Echo: 1},
	}
	return &l2frames.Scan{ScanID: "id", KeyValue: 42, Points: points, PointCount: len(points)}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                       "unknown",
		"compact-1":              "compact-1",
		"../../etc/passwd":       "etc_passwd",
		"sensor  name!!":         "sensor_name",
		"__.hidden":              "hidden",
		strings.Repeat("a", 200): strings.Repeat("a", 64),
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestSafePath(t *testing.T) {
	dir := t.TempDir()

	p, err := safePath(dir, "scan.json")
	require.NoError(t, err)
	assert.Equal(t, "scan.json", filepath.Base(p))

	p, err = safePath(dir, "../../outside.json")
	require.NoError(t, err, "only the base name is used")
	assert.True(t, strings.HasSuffix(p, string(filepath.Separator)+"outside.json"))
	rel, err := filepath.Rel(dir, p)
	if err == nil {
		assert.False(t, strings.HasPrefix(rel, ".."))
	}

	for _, bad := range []string{"", ".", "..", "/"} {
		_, err := safePath(dir, bad)
		assert.Error(t, err, "name %q", bad)
	}
}

func TestExporter_WriteJSON(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Unix(0, 1234))
	e, err := NewExporter("/dumps", mem, clock)
	require.NoError(t, err)

	path, err := e.WriteJSON(sampleScan())
	require.NoError(t, err)
	assert.Equal(t, "scan_42_1234.json", filepath.Base(path))

	data, err := mem.ReadFile(path)
	require.NoError(t, err)
	points, err := DecodeJSON(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, uint16(90), points[1].RSSI)
	assert.Contains(t, string(data), `"distance":3.16`)
}

func TestExporter_WriteASC(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	e, err := NewExporter("/dumps", mem, timeutil.NewMockClock(time.Unix(1, 0)))
	require.NoError(t, err)

	path, err := e.WriteASC(sampleScan())
	require.NoError(t, err)
	data, err := mem.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# Format: X Y Z Intensity Layer Beam Echo", lines[1])
	assert.Equal(t, "0.000000 3.000000 1.000000 90 1 1 1", lines[3])

	_, err = e.WriteASC(&l2frames.Scan{})
	assert.Error(t, err)
}

func TestEncodeJSON_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestNewExporter_RequiresDir(t *testing.T) {
	_, err := NewExporter("", nil, nil)
	assert.Error(t, err)
}

func TestLatestDump(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	for _, name := range []string{"scan_9_100.json", "scan_10_300.json", "scan_2_200.json", "scan_x.json"} {
		w, err := mem.Create(filepath.Join("/d", name))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	got, err := LatestDump(mem, "/d")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/d", "scan_10_300.json"), got)

	_, err = LatestDump(mem, "/empty")
	assert.Error(t, err)
}

func TestWriteLAS_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	e, err := NewExporter(dir, nil, timeutil.NewMockClock(time.Unix(5, 0)))
	require.NoError(t, err)

	path, err := e.WriteLAS(sampleScan())
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	points, err := ReadLAS(path)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 2.0, points[0].X, 1e-3)
	assert.InDelta(t, 3.0, points[1].Y, 1e-3)
	assert.Equal(t, uint16(120), points[0].RSSI)

	assert.Error(t, WriteLAS(filepath.Join(dir, "empty.las"), nil))
}
