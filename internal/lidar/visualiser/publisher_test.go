package visualiser

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/monitoring"
)

func testScan(id string, n int) *l2frames.Scan {
	points := make([]lidar.Point, n)
	for i := range points {
		points[i] = lidar.Point{X: float64(i), Y: 1, Z: 0.5, Distance: 2, RSSI: uint16(100 + i), Beam: i}
	}
	return &l2frames.Scan{
		ScanID:      id,
		SensorID:    "compact-01",
		Key:         l2frames.KeyFrameNumber,
		KeyValue:    7,
		Points:      points,
		PointCount:  n,
		EndWallTime: time.Unix(1700000000, 0),
		Reason:      l2frames.ReasonKeyChange,
	}
}

func recvScan(t *testing.T, ch <-chan *l2frames.Scan) *l2frames.Scan {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scan")
		return nil
	}
}

func TestPublisher_FanOut(t *testing.T) {
	p := NewPublisher(DefaultConfig())
	p.Run()
	defer p.Stop()

	a, cancelA, err := p.Subscribe("ws")
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := p.Subscribe("ws")
	require.NoError(t, err)
	defer cancelB()

	p.Publish(testScan("s1", 3))

	assert.Equal(t, "s1", recvScan(t, a).ScanID)
	assert.Equal(t, "s1", recvScan(t, b).ScanID)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, int32(2), stats.ClientCount)
	assert.True(t, stats.Running)
}

func TestPublisher_LogsClientLifecycle(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		lines = append(lines, fmt.Sprintf(format, v...))
		mu.Unlock()
	})
	defer monitoring.SetLogger(original)

	p := NewPublisher(DefaultConfig())
	p.Run()
	_, cancel, err := p.Subscribe("grpc")
	require.NoError(t, err)
	cancel()
	cancel()
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, lines, "[Visualiser] Client connected: grpc-1 (total: 1)")
	assert.Contains(t, lines, "[Visualiser] Client disconnected: grpc-1 (remaining: 0)")
}

func TestPublisher_SubscribeRequiresRunning(t *testing.T) {
	p := NewPublisher(Config{})
	_, _, err := p.Subscribe("ws")
	assert.Error(t, err)

	// Publishing before Run is a no-op.
	p.Publish(testScan("s1", 1))
	assert.Zero(t, p.Stats().Published)
}

func TestPublisher_MaxClients(t *testing.T) {
	p := NewPublisher(Config{MaxClients: 1})
	p.Run()
	defer p.Stop()

	_, cancel, err := p.Subscribe("ws")
	require.NoError(t, err)

	_, _, err = p.Subscribe("ws")
	assert.Error(t, err)

	cancel()
	_, cancel, err = p.Subscribe("ws")
	require.NoError(t, err)
	cancel()
}

func TestPublisher_CancelClosesChannel(t *testing.T) {
	p := NewPublisher(Config{})
	p.Run()
	defer p.Stop()

	ch, cancel, err := p.Subscribe("ws")
	require.NoError(t, err)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, int32(0), p.Stats().ClientCount)
}

func TestPublisher_SlowSubscriberDrops(t *testing.T) {
	p := NewPublisher(Config{SubscriberBuffer: 1})
	p.Run()
	defer p.Stop()

	ch, cancel, err := p.Subscribe("slow")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 5; i++ {
		p.Publish(testScan("s", 1))
	}
	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Dropped > 0 && len(p.scanCh) == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.NotNil(t, recvScan(t, ch))
}

func TestPublisher_StopClosesSubscribers(t *testing.T) {
	p := NewPublisher(Config{})
	p.Run()

	ch, cancel, err := p.Subscribe("ws")
	require.NoError(t, err)

	p.Stop()
	p.Stop()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.False(t, p.Stats().Running)

	p.Publish(testScan("late", 1))
	assert.Zero(t, p.Stats().Published)
}
