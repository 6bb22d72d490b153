package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadShippedDefaults(t *testing.T) {
	cfg, err := LoadCompactConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, "compact-01", cfg.GetSensorID())
	assert.Equal(t, 0.1, cfg.GetMinRangeM())
	assert.Equal(t, 120.0, cfg.GetMaxRangeM())
	assert.Equal(t, "frame_number", cfg.GetAggregationKey())
	assert.Equal(t, 8, cfg.GetScanQueueSize())
	assert.Equal(t, 4, cfg.GetSubscriberBuffer())
	assert.False(t, cfg.GetPersistPoints())
	assert.Equal(t, 2*time.Second, cfg.GetLogInterval())
	assert.Equal(t, 168*time.Hour, cfg.GetScanRetention())
	assert.Nil(t, cfg.GetSensorPose())
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyCompactConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultSensorID, cfg.GetSensorID())
	assert.Equal(t, defaultMinRangeM, cfg.GetMinRangeM())
	assert.Equal(t, defaultLogInterval, cfg.GetLogInterval())
	assert.Equal(t, defaultScanRetention, cfg.GetScanRetention())
}

func TestLoadCompactConfig_Partial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"aggregation_key": "telegram_counter", "persist_points": true, "log_interval": "500ms"}`)
	cfg, err := LoadCompactConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "telegram_counter", cfg.GetAggregationKey())
	assert.True(t, cfg.GetPersistPoints())
	assert.Equal(t, 500*time.Millisecond, cfg.GetLogInterval())
	assert.Equal(t, defaultMaxRangeM, cfg.GetMaxRangeM())
}

func TestLoadCompactConfig_Pose(t *testing.T) {
	path := writeConfig(t, "pose.json", `{"sensor_pose": [1,0,0,2, 0,1,0,0, 0,0,1,1.5, 0,0,0,1]}`)
	cfg, err := LoadCompactConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.GetSensorPose())
	assert.Equal(t, 2.0, cfg.GetSensorPose()[3])
}

func TestLoadCompactConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"extension", "cfg.yaml", `{}`, ".json extension"},
		{"syntax", "bad.json", `{`, "failed to parse"},
		{"unknown field", "unknown.json", `{"noise_relative": 0.1}`, "failed to parse"},
		{"range order", "range.json", `{"min_range_m": 5, "max_range_m": 2}`, "less than max_range_m"},
		{"negative min", "min.json", `{"min_range_m": -1}`, "non-negative"},
		{"key", "key.json", `{"aggregation_key": "segment"}`, "aggregation_key"},
		{"queue", "queue.json", `{"scan_queue_size": 0}`, "scan_queue_size"},
		{"buffer", "buffer.json", `{"subscriber_buffer": 0}`, "subscriber_buffer"},
		{"interval", "interval.json", `{"log_interval": "soon"}`, "log_interval"},
		{"interval zero", "interval0.json", `{"log_interval": "0s"}`, "log_interval"},
		{"retention", "retention.json", `{"scan_retention": "-1h"}`, "scan_retention"},
		{"pose", "pose.json", `{"sensor_pose": [1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,1,1]}`, "bottom row"},
		{"sensor", "sensor.json", `{"sensor_id": " "}`, "sensor_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadCompactConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadCompactConfig_TooLarge(t *testing.T) {
	body := `{"sensor_id": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", body)
	_, err := LoadCompactConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadCompactConfig_Missing(t *testing.T) {
	_, err := LoadCompactConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
