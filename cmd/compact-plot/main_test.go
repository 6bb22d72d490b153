package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/compact.report/internal/fsutil"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/export"
)

func samplePoints() []lidar.Point {
	return []lidar.Point{
		{X: 1, Distance: 1, RSSI: 300},
		{X: 2, Distance: 2, RSSI: 200},
		{X: 4, Distance: 4, RSSI: 100},
		{Distance: 0, RSSI: 999},
	}
}

func writeDump(t *testing.T, dir, name string, points []lidar.Point) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, export.EncodeJSON(f, points))
	return path
}

func TestWithDistance(t *testing.T) {
	kept := withDistance(samplePoints())
	require.Len(t, kept, 3)
	for _, p := range kept {
		assert.Positive(t, p.Distance)
	}
}

func TestPlotDistanceRSSI(t *testing.T) {
	dir := t.TempDir()
	writeDump(t, dir, "scan_7_100.json", []lidar.Point{{Distance: 9}})
	newest := writeDump(t, dir, "scan_8_200.json", samplePoints())

	path, err := export.LatestDump(fsutil.OSFileSystem{}, dir)
	require.NoError(t, err)
	assert.Equal(t, newest, path)

	points, err := loadPoints(path)
	require.NoError(t, err)
	require.Len(t, points, 4)

	out := filepath.Join(dir, "plot.png")
	summary, err := plotDistanceRSSI(points, "scan_8_200.json", out, 4*vg.Inch, 3*vg.Inch)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count, "zero-distance points are not plotted")
	assert.InDelta(t, 1.0, summary.Min, 1e-9)
	assert.InDelta(t, 4.0, summary.Max, 1e-9)
	assert.Equal(t, [3]float64{1, 0, 0}, summary.BoundsMin)
	assert.Equal(t, [3]float64{4, 0, 0}, summary.BoundsMax)

	png, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestPlotDistanceRSSI_NoPoints(t *testing.T) {
	_, err := plotDistanceRSSI([]lidar.Point{{RSSI: 5}}, "empty", filepath.Join(t.TempDir(), "x.png"), vg.Inch, vg.Inch)
	assert.Error(t, err)
}

func TestLoadPoints_LAS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.las")
	require.NoError(t, export.WriteLAS(path, []lidar.Point{{X: 3, Y: 4, RSSI: 50}}))

	points, err := loadPoints(path)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 5.0, points[0].Distance, 1e-3)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, summarise(samplePoints()[:3])))

	var got struct {
		Count     int        `json:"count"`
		Max       float64    `json:"max"`
		BoundsMax [3]float64 `json:"bounds_max"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 3, got.Count)
	assert.InDelta(t, 4.0, got.Max, 1e-9)
	assert.Equal(t, [3]float64{4, 0, 0}, got.BoundsMax)
}
