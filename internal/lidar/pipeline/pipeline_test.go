package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/network"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/testutil"
	"github.com/banshee-data/compact.report/internal/timeutil"
)

type recordingSink struct {
	mu         sync.Mutex
	persisted  []*l2frames.Scan
	published  []*l2frames.Scan
	dumped     []*l2frames.Scan
	observed   []*l2frames.Scan
	persistErr error
}

func (r *recordingSink) InsertScan(_ context.Context, s *l2frames.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persisted = append(r.persisted, s)
	return r.persistErr
}

func (r *recordingSink) Publish(s *l2frames.Scan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, s)
}

func (r *recordingSink) WriteJSON(s *l2frames.Scan) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dumped = append(r.dumped, s)
	return "/tmp/" + s.ScanID + ".json", nil
}

func (r *recordingSink) RecordScan(s *l2frames.Scan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, s)
}

func (r *recordingSink) counts() (persisted, published, dumped, observed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.persisted), len(r.published), len(r.dumped), len(r.observed)
}

func (r *recordingSink) keys() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]uint64, len(r.published))
	for i, s := range r.published {
		keys[i] = s.KeyValue
	}
	return keys
}

type failureRecorder struct {
	mu    sync.Mutex
	calls []map[string]int64
}

func (f *failureRecorder) Record(_ context.Context, _ string, counts map[string]int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, counts)
	return nil
}

func (f *failureRecorder) snapshot() []map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]int64(nil), f.calls...)
}

type pruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (p *pruner) DeleteScansBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 1, nil
}

func (p *pruner) snapshot() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func telegram(counter, frame uint64) []byte {
	return testutil.NewTelegramBuilder().WithCounter(counter).AddModule(testutil.ModuleSpec{
		FrameNumber: frame,
		Lines:       1,
		Beams:       4,
		Echos:       1,
		EchoFlags:   testutil.EchoDistance | testutil.EchoRSSI,
		Distance:    testutil.ConstDistance(3000),
	}).Build()
}

func TestScanCallback_FansOutToEverySink(t *testing.T) {
	sink := &recordingSink{persistErr: errors.New("disk full")}
	stats := lidar.NewPacketStats()
	cfg := &ScanPipelineConfig{Persister: sink, Publisher: sink, Dumper: sink, Observer: sink, Stats: stats}
	cb := cfg.NewScanCallback()

	cb(&l2frames.Scan{ScanID: "a", KeyValue: 1})
	cb(nil)

	p, pub, d, o := sink.counts()
	assert.Equal(t, []int{1, 1, 1, 1}, []int{p, pub, d, o}, "a persist error must not stop later sinks")
	assert.Equal(t, int64(1), stats.Snapshot().Scans)
}

func TestScanCallback_TypedNilSinksAreSkipped(t *testing.T) {
	var nilSink *recordingSink
	cfg := &ScanPipelineConfig{Persister: nilSink, Publisher: nilSink, Dumper: nilSink, Observer: nilSink}
	cb := cfg.NewScanCallback()
	assert.NotPanics(t, func() { cb(&l2frames.Scan{ScanID: "a"}) })
}

func TestScanObserverFunc(t *testing.T) {
	var got []string
	cfg := &ScanPipelineConfig{Observer: ScanObserverFunc(func(s *l2frames.Scan) { got = append(got, s.ScanID) })}
	cb := cfg.NewScanCallback()
	cb(&l2frames.Scan{ScanID: "a"})
	cb(&l2frames.Scan{ScanID: "b"})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestIsNilInterface(t *testing.T) {
	var p *recordingSink
	var m map[string]int
	assert.True(t, isNilInterface(nil))
	assert.True(t, isNilInterface(p))
	assert.True(t, isNilInterface(m))
	assert.False(t, isNilInterface(&recordingSink{}))
	assert.False(t, isNilInterface(42))
}

func TestNewSensorRuntime_Validation(t *testing.T) {
	_, err := NewSensorRuntime(RuntimeConfig{})
	assert.Error(t, err)

	_, err = NewSensorRuntime(RuntimeConfig{SensorID: "s", Limits: parseLimits(5, 2)})
	assert.Error(t, err)
}

func TestNewSensorRuntime_DebugTelegrams(t *testing.T) {
	var diag bytes.Buffer
	parse.SetLogWriters(nil, &diag, nil)
	defer parse.SetLogWriters(nil, nil, nil)

	rt, err := NewSensorRuntime(RuntimeConfig{SensorID: "debug-window", Debug: true, DebugTelegrams: 2})
	require.NoError(t, err)
	defer rt.Close()

	for i := 0; i < 4; i++ {
		_, err := rt.Decoder.Decode(telegram(uint64(i), 1))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, strings.Count(diag.String(), " header: "))
}

func TestSensorRuntime_DecodeAndAggregate(t *testing.T) {
	sink := &recordingSink{}
	rt, err := NewSensorRuntime(RuntimeConfig{
		SensorID: "compact-test",
		Sinks:    ScanPipelineConfig{Publisher: sink, Observer: sink},
	})
	require.NoError(t, err)
	defer rt.Close()
	assert.Same(t, rt.Builder, l2frames.GetScanBuilder("compact-test"))

	for i, frame := range []uint64{5, 5, 7} {
		tel, err := rt.Decoder.Decode(telegram(uint64(10+i), frame))
		require.NoError(t, err)
		rt.Builder.HandleTelegram(tel)
	}

	require.Eventually(t, func() bool { return len(sink.keys()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{5}, sink.keys())
	sink.mu.Lock()
	first := sink.published[0]
	sink.mu.Unlock()
	assert.Equal(t, 8, first.PointCount)
	assert.Equal(t, l2frames.ReasonKeyChange, first.Reason)
	assert.Equal(t, int64(1), rt.Stats.Snapshot().Scans)
}

func TestSensorRuntime_ReplayPCAPFlushesLastScan(t *testing.T) {
	sink := &recordingSink{}
	rt, err := NewSensorRuntime(RuntimeConfig{
		SensorID: "compact-replay",
		Sinks:    ScanPipelineConfig{Publisher: sink},
	})
	require.NoError(t, err)
	defer rt.Close()

	path := testutil.WriteCompactPCAP(t, network.DefaultCompactPort,
		telegram(1, 40), telegram(2, 40), telegram(3, 41), []byte{0xde, 0xad})

	res, err := rt.ReplayPCAP(context.Background(), path, network.PCAPReplayConfig{UDPPort: network.DefaultCompactPort})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Datagrams)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 12, res.Points)

	require.Eventually(t, func() bool { return len(sink.keys()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{40, 41}, sink.keys())
	sink.mu.Lock()
	assert.Equal(t, l2frames.ReasonFlush, sink.published[1].Reason)
	sink.mu.Unlock()
	assert.Equal(t, int64(1), rt.Stats.Snapshot().Malformed["too_short"])
}

func TestSensorRuntime_Maintenance(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	failures := &failureRecorder{}
	prune := &pruner{}
	rt, err := NewSensorRuntime(RuntimeConfig{
		SensorID:            "compact-maint",
		Failures:            failures,
		Pruner:              prune,
		Retention:           time.Hour,
		MaintenanceInterval: time.Minute,
		Clock:               clock,
	})
	require.NoError(t, err)
	defer rt.Close()

	bad := telegram(1, 1)
	bad[0] = 0x03
	_, err = rt.Decoder.Decode(bad)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, 2*time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(prune.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []map[string]int64{{"bad_magic": 1}}, failures.snapshot())
	assert.Equal(t, clock.Now().Add(-time.Hour), prune.snapshot()[0])

	// No new failures: nothing recorded on the next pass.
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(prune.snapshot()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Len(t, failures.snapshot(), 1)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, prune.snapshot(), 3, "final pass on shutdown")
}

func parseLimits(min, max float64) parse.RangeLimits {
	return parse.RangeLimits{Min: min, Max: max}
}
