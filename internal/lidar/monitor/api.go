package monitor

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/compact.report/internal/httputil"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/export"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	sqlite "github.com/banshee-data/compact.report/internal/lidar/storage/sqlite"
	"github.com/banshee-data/compact.report/internal/lidar/visualiser"
)

// scanSummary is the JSON view of a scan without its points.
type scanSummary struct {
	ScanID               string             `json:"scan_id"`
	SensorID             string             `json:"sensor_id"`
	AggregationKey       string             `json:"aggregation_key"`
	KeyValue             uint64             `json:"key_value"`
	FirstTelegramCounter uint64             `json:"first_telegram_counter"`
	LastTelegramCounter  uint64             `json:"last_telegram_counter"`
	TelegramCount        int                `json:"telegram_count"`
	ModuleCount          int                `json:"module_count"`
	PointCount           int                `json:"point_count"`
	Ranges               lidar.RangeSummary `json:"ranges"`
	DurationMs           float64            `json:"duration_ms"`
	EndTime              time.Time          `json:"end_time"`
	Reason               string             `json:"reason"`
}

func newScanSummary(s *l2frames.Scan) scanSummary {
	return scanSummary{
		ScanID:               s.ScanID,
		SensorID:             s.SensorID,
		AggregationKey:       s.Key.String(),
		KeyValue:             s.KeyValue,
		FirstTelegramCounter: s.FirstTelegramCounter,
		LastTelegramCounter:  s.LastTelegramCounter,
		TelegramCount:        s.TelegramCount,
		ModuleCount:          s.ModuleCount,
		PointCount:           s.PointCount,
		Ranges:               s.Summary(),
		DurationMs:           float64(s.Duration()) / float64(time.Millisecond),
		EndTime:              s.EndWallTime,
		Reason:               s.Reason,
	}
}

type decoderStatsView struct {
	Telegrams uint64            `json:"telegrams"`
	Complete  uint64            `json:"complete"`
	Modules   uint64            `json:"modules"`
	Tuples    uint64            `json:"tuples"`
	Points    uint64            `json:"points"`
	Failures  map[string]uint64 `json:"failures"`
}

func newDecoderStatsView(s parse.DecodeStats) *decoderStatsView {
	v := &decoderStatsView{
		Telegrams: s.Telegrams,
		Complete:  s.Complete,
		Modules:   s.Modules,
		Tuples:    s.Tuples,
		Points:    s.Points,
		Failures:  make(map[string]uint64, len(s.Failures)),
	}
	for k, n := range s.Failures {
		v.Failures[k.String()] = n
	}
	return v
}

type statsResponse struct {
	SensorID   string                     `json:"sensor_id"`
	Packets    lidar.StatsSnapshot        `json:"packets"`
	Decoder    *decoderStatsView          `json:"decoder,omitempty"`
	Builder    *l2frames.ScanBuilderStats `json:"builder,omitempty"`
	Publisher  *visualiser.PublisherStats `json:"publisher,omitempty"`
	LatestScan *scanSummary               `json:"latest_scan,omitempty"`
}

// handleStats reports cumulative packet, decoder, aggregator and publisher
// counters.
func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statsResponse{
		SensorID: ws.sensorID,
		Packets:  ws.stats.Snapshot(),
	}
	if ws.decoder != nil {
		resp.Decoder = newDecoderStatsView(ws.decoder.Stats())
	}
	if ws.builder != nil {
		s := ws.builder.Stats()
		resp.Builder = &s
	}
	if ws.publisher != nil {
		s := ws.publisher.Stats()
		resp.Publisher = &s
	}
	if scan := ws.LatestScan(); scan != nil {
		s := newScanSummary(scan)
		resp.LatestScan = &s
	}
	httputil.WriteJSONOK(w, resp)
}

// handleListScans returns stored scans, newest first.
// Query params:
//
//	sensor_id (optional, defaults to the configured sensor)
//	limit (optional, default 20, max 500)
func (ws *WebServer) handleListScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.store == nil {
		httputil.ServiceUnavailable(w, "no scan store configured")
		return
	}
	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		sensorID = ws.sensorID
	}
	limit, ok := httputil.QueryInt(r, "limit", 20, 1, 500)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return
	}

	scans, err := ws.store.ListScans(r.Context(), sensorID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if scans == nil {
		scans = []sqlite.ScanRecord{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"sensor_id": sensorID,
		"count":     len(scans),
		"scans":     scans,
	})
}

func (ws *WebServer) handleGetScan(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		httputil.ServiceUnavailable(w, "no scan store configured")
		return
	}
	rec, err := ws.store.GetScan(r.Context(), r.PathValue("id"))
	if errors.Is(err, sqlite.ErrScanNotFound) {
		httputil.NotFound(w, "scan not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, rec)
}

// handleScanPoints streams a stored scan's points in the JSON dump format.
func (ws *WebServer) handleScanPoints(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		httputil.ServiceUnavailable(w, "no scan store configured")
		return
	}
	id := r.PathValue("id")
	if _, err := ws.store.GetScan(r.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrScanNotFound) {
			httputil.NotFound(w, "scan not found")
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	points, err := ws.store.ScanPoints(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := export.EncodeJSON(w, points); err != nil {
		tracef("scan points %s: %v", id, err)
	}
}

// handleLatestScan returns the summary of the most recent scan and, with
// points=true, its points.
func (ws *WebServer) handleLatestScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	scan := ws.LatestScan()
	if scan == nil {
		httputil.NotFound(w, "no scan received yet")
		return
	}
	resp := struct {
		scanSummary
		Points []lidar.Point `json:"points,omitempty"`
		Stride int           `json:"stride,omitempty"`
	}{scanSummary: newScanSummary(scan)}
	if r.URL.Query().Get("points") == "true" {
		maxPoints, _ := strconv.Atoi(r.URL.Query().Get("max_points"))
		resp.Points, resp.Stride = visualiser.Decimate(scan.Points, maxPoints)
	}
	httputil.WriteJSONOK(w, resp)
}

// handleExport writes a scan to the export directory.
// Query params:
//
//	format (json, asc or las; default json)
//	scan_id (optional; a stored scan, otherwise the latest scan)
func (ws *WebServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.exporter == nil {
		httputil.ServiceUnavailable(w, "no export directory configured")
		return
	}

	scan, status, msg := ws.exportSource(r)
	if scan == nil {
		httputil.WriteJSONError(w, status, msg)
		return
	}

	var (
		path string
		err  error
	)
	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		format = "json"
		path, err = ws.exporter.WriteJSON(scan)
	case "asc":
		path, err = ws.exporter.WriteASC(scan)
	case "las":
		path, err = ws.exporter.WriteLAS(scan)
	default:
		httputil.BadRequest(w, "format must be one of json, asc, las")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "export error: "+err.Error())
		return
	}
	opsf("exported %s as %s to %s", scan, format, path)
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "ok",
		"scan_id": scan.ScanID,
		"format":  format,
		"points":  len(scan.Points),
		"path":    path,
	})
}

func (ws *WebServer) exportSource(r *http.Request) (*l2frames.Scan, int, string) {
	id := r.URL.Query().Get("scan_id")
	if id == "" {
		if scan := ws.LatestScan(); scan != nil {
			return scan, 0, ""
		}
		return nil, http.StatusNotFound, "no scan received yet"
	}
	if latest := ws.LatestScan(); latest != nil && latest.ScanID == id {
		return latest, 0, ""
	}
	if ws.store == nil {
		return nil, http.StatusServiceUnavailable, "no scan store configured"
	}
	rec, err := ws.store.GetScan(r.Context(), id)
	if errors.Is(err, sqlite.ErrScanNotFound) {
		return nil, http.StatusNotFound, "scan not found"
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err.Error()
	}
	points, err := ws.store.ScanPoints(r.Context(), id)
	if err != nil {
		return nil, http.StatusInternalServerError, err.Error()
	}
	if len(points) == 0 {
		return nil, http.StatusNotFound, "scan has no stored points"
	}
	return scanFromRecord(rec, points), 0, ""
}

func scanFromRecord(rec *sqlite.ScanRecord, points []lidar.Point) *l2frames.Scan {
	key, _ := l2frames.ParseAggregationKey(rec.AggregationKey)
	return &l2frames.Scan{
		ScanID:               rec.ScanID,
		SensorID:             rec.SensorID,
		Key:                  key,
		KeyValue:             rec.KeyValue,
		FirstTelegramCounter: rec.FirstTelegramCounter,
		LastTelegramCounter:  rec.LastTelegramCounter,
		TelegramCount:        rec.TelegramCount,
		ModuleCount:          rec.ModuleCount,
		Points:               points,
		PointCount:           rec.PointCount,
		StartWallTime:        time.Unix(0, rec.StartUnixNanos),
		EndWallTime:          time.Unix(0, rec.EndUnixNanos),
		Reason:               rec.FlushReason,
	}
}
