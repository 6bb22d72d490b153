package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/compact.report/internal/httputil"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/lidar/visualiser"
)

const defaultChartMaxPoints = 8000

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// attachChartRoutes adds the latest-scan charts to the /debug/ index.
func (ws *WebServer) attachChartRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("scan-xy", "Latest scan, top-down X/Y coloured by RSSI", ws.handleScanXYChart)
	debug.HandleFunc("scan-rssi", "Latest scan, RSSI against distance", ws.handleScanRSSIChart)
}

func chartMaxPoints(r *http.Request) int {
	maxPoints := defaultChartMaxPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}
	return maxPoints
}

func (ws *WebServer) chartScan(w http.ResponseWriter) *l2frames.Scan {
	scan := ws.LatestScan()
	if scan == nil || len(scan.Points) == 0 {
		httputil.NotFound(w, "no scan with points received yet")
		return nil
	}
	return scan
}

// handleScanXYChart renders the latest scan in the sensor's X/Y plane.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleScanXYChart(w http.ResponseWriter, r *http.Request) {
	scan := ws.chartScan(w)
	if scan == nil {
		return
	}
	points, stride := visualiser.Decimate(scan.Points, chartMaxPoints(r))

	data := make([]opts.ScatterData, 0, len(points))
	maxAbs := 0.0
	maxRSSI := 0.0
	for _, p := range points {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		maxRSSI = math.Max(maxRSSI, float64(p.RSSI))
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.RSSI}})
	}

	// Pad so points at the edges stay visible; equal axes keep it square.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxRSSI == 0 {
		maxRSSI = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Compact Scan (X/Y)", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Latest Scan", Subtitle: fmt.Sprintf("sensor=%s key=%d points=%d stride=%d", scan.SensorID, scan.KeyValue, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxRSSI),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	renderChart(w, scatter)
}

// handleScanRSSIChart plots RSSI against distance for the latest scan.
func (ws *WebServer) handleScanRSSIChart(w http.ResponseWriter, r *http.Request) {
	scan := ws.chartScan(w)
	if scan == nil {
		return
	}
	points, stride := visualiser.Decimate(scan.Points, chartMaxPoints(r))

	// One series per layer so the legend can toggle them.
	byLayer := make(map[int][]opts.ScatterData)
	var layers []int
	for _, p := range points {
		if _, ok := byLayer[p.Layer]; !ok {
			layers = append(layers, p.Layer)
		}
		byLayer[p.Layer] = append(byLayer[p.Layer], opts.ScatterData{Value: []interface{}{p.Distance, p.RSSI}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Compact Scan (RSSI)", Theme: "dark", Width: "1000px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "RSSI vs Distance", Subtitle: fmt.Sprintf("sensor=%s key=%d points=%d stride=%d", scan.SensorID, scan.KeyValue, len(points), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Distance (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RSSI", NameLocation: "middle", NameGap: 40}),
	)
	for _, layer := range layers {
		scatter.AddSeries(fmt.Sprintf("layer %d", layer), byLayer[layer], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	renderChart(w, scatter)
}

func renderChart(w http.ResponseWriter, scatter *charts.Scatter) {
	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
