package lidar

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// PacketStats tracks telegram statistics with thread-safe operations.
// Interval counters are reset by GetAndReset; totals are kept for the
// lifetime of the process and exposed through Snapshot.
type PacketStats struct {
	mu           sync.Mutex
	packetCount  int64
	byteCount    int64
	droppedCount int64
	pointCount   int64
	scanCount    int64
	malformed    map[string]int64
	lastReset    time.Time

	started time.Time
	totals  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of the cumulative counters.
type StatsSnapshot struct {
	Packets   int64            `json:"packets"`
	Bytes     int64            `json:"bytes"`
	Dropped   int64            `json:"dropped"`
	Points    int64            `json:"points"`
	Scans     int64            `json:"scans"`
	Malformed map[string]int64 `json:"malformed"`
	Uptime    string           `json:"uptime"`
}

// NewPacketStats creates a new PacketStats instance
func NewPacketStats() *PacketStats {
	now := time.Now()
	return &PacketStats{
		malformed: make(map[string]int64),
		lastReset: now,
		started:   now,
		totals:    StatsSnapshot{Malformed: make(map[string]int64)},
	}
}

// AddPacket increments packet count and byte count
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
	ps.totals.Packets++
	ps.totals.Bytes += int64(bytes)
}

// AddDropped increments dropped packet count
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
	ps.totals.Dropped++
}

// AddPoints increments the valid point count
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
	ps.totals.Points += int64(count)
}

// AddScan increments the number of completed scans.
func (ps *PacketStats) AddScan() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.scanCount++
	ps.totals.Scans++
}

// AddMalformed records a telegram rejected or cut short by the decoder.
// reason is the decode error kind, e.g. "bad_magic".
func (ps *PacketStats) AddMalformed(reason string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.malformed[reason]++
	ps.totals.Malformed[reason]++
}

// GetAndReset returns current interval stats and resets counters
func (ps *PacketStats) GetAndReset() (packets int64, bytes int64, dropped int64, points int64, duration time.Duration) {
	packets, bytes, dropped, points, _, _, duration = ps.getAndReset()
	return
}

func (ps *PacketStats) getAndReset() (packets, bytes, dropped, points, scans int64, malformed map[string]int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	dropped = ps.droppedCount
	points = ps.pointCount
	scans = ps.scanCount
	malformed = ps.malformed

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.pointCount = 0
	ps.scanCount = 0
	ps.malformed = make(map[string]int64)
	ps.lastReset = now

	return
}

// Snapshot returns the cumulative counters since NewPacketStats.
func (ps *PacketStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	snap := ps.totals
	snap.Malformed = make(map[string]int64, len(ps.totals.Malformed))
	for k, v := range ps.totals.Malformed {
		snap.Malformed[k] = v
	}
	snap.Uptime = time.Since(ps.started).Truncate(time.Second).String()
	return snap
}

// LogStats logs the interval statistics and resets them.
func (ps *PacketStats) LogStats(parsePackets bool) {
	packets, bytes, dropped, points, scans, malformed, duration := ps.getAndReset()
	if packets == 0 && dropped == 0 {
		return
	}
	secs := duration.Seconds()
	packetsPerSec := float64(packets) / secs
	mbPerSec := float64(bytes) / secs / (1024 * 1024)
	pointsPerSec := float64(points) / secs

	var logMsg string
	if parsePackets && points > 0 {
		logMsg = fmt.Sprintf("Compact stats (/sec): %.2f MB, %.1f telegrams, %s points, %.2f scans",
			mbPerSec, packetsPerSec, FormatWithCommas(int64(pointsPerSec)), float64(scans)/secs)
	} else {
		logMsg = fmt.Sprintf("Compact stats (/sec): %.2f MB, %.1f telegrams",
			mbPerSec, packetsPerSec)
	}

	if dropped > 0 {
		logMsg += fmt.Sprintf(", %d dropped on forward", dropped)
	}
	if len(malformed) > 0 {
		logMsg += ", malformed: " + formatReasons(malformed)
	}

	log.Print(logMsg)
}

func formatReasons(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(char)
	}
	return b.String()
}
