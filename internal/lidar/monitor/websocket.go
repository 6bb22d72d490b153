package monitor

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/banshee-data/compact.report/internal/httputil"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/lidar/visualiser"
)

const (
	defaultWSMaxPoints = 4000
	wsWriteTimeout     = 5 * time.Second
)

// ScanMessage is one WebSocket frame: a scan summary plus decimated points.
type ScanMessage struct {
	scanSummary
	Stride int           `json:"stride"`
	Points []lidar.Point `json:"points"`
}

func newScanMessage(scan *l2frames.Scan, maxPoints int) ScanMessage {
	points, stride := visualiser.Decimate(scan.Points, maxPoints)
	if points == nil {
		points = []lidar.Point{}
	}
	return ScanMessage{scanSummary: newScanSummary(scan), Stride: stride, Points: points}
}

// handleScanWebSocket streams every published scan as JSON until the
// client disconnects. Query params:
//
//	max_points (optional, default 4000; 0 sends every point)
func (ws *WebServer) handleScanWebSocket(w http.ResponseWriter, r *http.Request) {
	if ws.publisher == nil {
		httputil.ServiceUnavailable(w, "live scans are not enabled")
		return
	}
	maxPoints, ok := httputil.QueryInt(r, "max_points", defaultWSMaxPoints, 0, math.MaxInt32)
	if !ok {
		httputil.BadRequest(w, "invalid 'max_points' parameter")
		return
	}

	scans, cancel, err := ws.publisher.Subscribe("ws")
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		diagf("websocket accept from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	diagf("websocket client %s connected", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			diagf("websocket client %s disconnected", r.RemoteAddr)
			return
		case scan, ok := <-scans:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "publisher stopped")
				return
			}
			if err := writeScan(ctx, conn, scan, maxPoints); err != nil {
				diagf("websocket write to %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

func writeScan(ctx context.Context, conn *websocket.Conn, scan *l2frames.Scan, maxPoints int) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, newScanMessage(scan, maxPoints))
}
