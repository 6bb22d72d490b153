// Package monitor serves the LiDAR status page, the JSON stats and scan
// APIs, scan exports, debug charts and the live scan WebSocket.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/compact.report/internal/db"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/export"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	sqlite "github.com/banshee-data/compact.report/internal/lidar/storage/sqlite"
	"github.com/banshee-data/compact.report/internal/lidar/visualiser"
)

//go:embed status.html
var StatusHTML embed.FS

// DecoderStats is satisfied by *parse.Decoder.
type DecoderStats interface {
	Stats() parse.DecodeStats
}

// WebServer handles the HTTP interface for monitoring the Compact pipeline.
type WebServer struct {
	address           string
	stats             *lidar.PacketStats
	decoder           DecoderStats
	builder           *l2frames.ScanBuilder
	publisher         *visualiser.Publisher
	store             *sqlite.ScanStore
	exporter          *export.Exporter
	db                *db.DB
	server            *http.Server
	forwardingEnabled bool
	forwardAddr       string
	forwardPort       int
	parsingEnabled    bool
	udpPort           int
	sensorID          string

	latestMu sync.RWMutex
	latest   *l2frames.Scan

	handlerOnce sync.Once
	handler     http.Handler
	routeErr    error
}

// WebServerConfig contains configuration options for the web server.
// Every dependency except Stats is optional; routes that need a missing
// one answer 503. A nil Builder is looked up in the l2frames registry by
// SensorID.
type WebServerConfig struct {
	Address           string
	Stats             *lidar.PacketStats
	Decoder           DecoderStats
	Builder           *l2frames.ScanBuilder
	Publisher         *visualiser.Publisher
	Store             *sqlite.ScanStore
	Exporter          *export.Exporter
	DB                *db.DB
	ForwardingEnabled bool
	ForwardAddr       string
	ForwardPort       int
	ParsingEnabled    bool
	UDPPort           int
	SensorID          string
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	stats := config.Stats
	if stats == nil {
		stats = lidar.NewPacketStats()
	}
	builder := config.Builder
	if builder == nil && config.SensorID != "" {
		builder = l2frames.GetScanBuilder(config.SensorID)
	}
	ws := &WebServer{
		address:           config.Address,
		stats:             stats,
		decoder:           config.Decoder,
		builder:           builder,
		publisher:         config.Publisher,
		store:             config.Store,
		exporter:          config.Exporter,
		db:                config.DB,
		forwardingEnabled: config.ForwardingEnabled,
		forwardAddr:       config.ForwardAddr,
		forwardPort:       config.ForwardPort,
		parsingEnabled:    config.ParsingEnabled,
		udpPort:           config.UDPPort,
		sensorID:          config.SensorID,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// RecordScan remembers the most recent flushed scan for the status page,
// charts and exports.
func (ws *WebServer) RecordScan(scan *l2frames.Scan) {
	if scan == nil {
		return
	}
	ws.latestMu.Lock()
	ws.latest = scan
	ws.latestMu.Unlock()
}

// LatestScan returns the scan last passed to RecordScan, or nil.
func (ws *WebServer) LatestScan() *l2frames.Scan {
	ws.latestMu.RLock()
	defer ws.latestMu.RUnlock()
	return ws.latest
}

// Handler returns the route multiplexer. It is built once.
func (ws *WebServer) Handler() http.Handler {
	ws.handlerOnce.Do(func() {
		mux, err := ws.setupRoutes()
		if err != nil {
			log.Printf("monitor: failed to attach admin routes: %v", err)
			ws.routeErr = err
		}
		ws.handler = mux
	})
	return ws.handler
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// Close stops the HTTP server immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}

// setupRoutes configures the HTTP routes and handlers. The mux is always
// returned; the error reports a failure to mount the database admin routes.
func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/ws", ws.handleScanWebSocket)

	mux.HandleFunc("/api/lidar/stats", ws.handleStats)
	mux.HandleFunc("/api/lidar/scans", ws.handleListScans)
	mux.HandleFunc("GET /api/lidar/scans/{id}", ws.handleGetScan)
	mux.HandleFunc("GET /api/lidar/scans/{id}/points", ws.handleScanPoints)
	mux.HandleFunc("/api/lidar/scan/latest", ws.handleLatestScan)
	mux.HandleFunc("/api/lidar/export", ws.handleExport)

	ws.attachChartRoutes(mux)

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			return mux, err
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "compact-lidar", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	forwardingStatus := "disabled"
	if ws.forwardingEnabled {
		forwardingStatus = fmt.Sprintf("enabled (%s:%d)", ws.forwardAddr, ws.forwardPort)
	}
	parsingStatus := "enabled"
	if !ws.parsingEnabled {
		parsingStatus = "disabled"
	}

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var latest *scanSummary
	if scan := ws.LatestScan(); scan != nil {
		s := newScanSummary(scan)
		latest = &s
	}

	data := struct {
		UDPPort          int
		HTTPAddress      string
		ForwardingStatus string
		ParsingStatus    string
		SensorID         string
		Stats            lidar.StatsSnapshot
		Latest           *scanSummary
		HasDB            bool
	}{
		UDPPort:          ws.udpPort,
		HTTPAddress:      ws.address,
		ForwardingStatus: forwardingStatus,
		ParsingStatus:    parsingStatus,
		SensorID:         ws.sensorID,
		Stats:            ws.stats.Snapshot(),
		Latest:           latest,
		HasDB:            ws.db != nil,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
