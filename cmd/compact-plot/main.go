// compact-plot draws distance against RSSI for one scan dump and prints the
// range statistics of the plotted points.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/compact.report/internal/fsutil"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/export"
)

var (
	dumpDir = flag.String("dir", ".", "Directory searched for the newest scan_*.json dump")
	input   = flag.String("in", "", "Scan file to plot (.json or .las); overrides -dir")
	output  = flag.String("out", "distance_rssi.png", "Output image (.png, .svg or .pdf)")
	width   = flag.Float64("width", 10, "Image width in inches")
	height  = flag.Float64("height", 6, "Image height in inches")
)

func main() {
	flag.Parse()

	path := *input
	if path == "" {
		var err error
		path, err = export.LatestDump(fsutil.OSFileSystem{}, *dumpDir)
		if err != nil {
			log.Fatalf("No scan dump found: %v", err)
		}
	}
	log.Printf("Loading %s", path)

	points, err := loadPoints(path)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", path, err)
	}

	summary, err := plotDistanceRSSI(points, filepath.Base(path), *output, vg.Length(*width)*vg.Inch, vg.Length(*height)*vg.Inch)
	if err != nil {
		log.Fatalf("Failed to plot: %v", err)
	}
	log.Printf("Wrote %s (%d points)", *output, summary.Count)

	if err := writeSummary(os.Stdout, summary); err != nil {
		log.Fatal(err)
	}
}

// loadPoints reads a JSON dump or a LAS export.
func loadPoints(path string) ([]lidar.Point, error) {
	if strings.EqualFold(filepath.Ext(path), ".las") {
		return export.ReadLAS(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return export.DecodeJSON(f)
}

// withDistance keeps points that carry a distance reading.
func withDistance(points []lidar.Point) []lidar.Point {
	out := make([]lidar.Point, 0, len(points))
	for _, p := range points {
		if p.Distance > 0 {
			out = append(out, p)
		}
	}
	return out
}

// plotSummary is the range statistics and XYZ extent of the plotted points.
type plotSummary struct {
	lidar.RangeSummary
	BoundsMin [3]float64 `json:"bounds_min"`
	BoundsMax [3]float64 `json:"bounds_max"`
}

func summarise(points []lidar.Point) plotSummary {
	s := plotSummary{RangeSummary: lidar.SummariseRanges(points)}
	s.BoundsMin, s.BoundsMax, _ = lidar.Bounds(points)
	return s
}

// plotDistanceRSSI saves a distance vs RSSI scatter of points with a
// positive distance to out and returns their summary.
func plotDistanceRSSI(points []lidar.Point, title, out string, w, h vg.Length) (plotSummary, error) {
	kept := withDistance(points)
	if len(kept) == 0 {
		return plotSummary{}, fmt.Errorf("no points with a distance reading")
	}

	xys := make(plotter.XYs, len(kept))
	for i, p := range kept {
		xys[i] = plotter.XY{X: p.Distance, Y: float64(p.RSSI)}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Distance vs RSSI - %s", title)
	p.X.Label.Text = "Distance (m)"
	p.Y.Label.Text = "RSSI"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return plotSummary{}, err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	scatter.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 180}
	p.Add(scatter)

	if err := p.Save(w, h, out); err != nil {
		return plotSummary{}, fmt.Errorf("save %s: %w", out, err)
	}
	return summarise(kept), nil
}

func writeSummary(w io.Writer, s plotSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
