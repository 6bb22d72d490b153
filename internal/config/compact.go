// Package config loads the JSON runtime configuration of the Compact
// pipeline.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/compact.defaults.json"

// CompactConfig is the runtime configuration of the Compact pipeline.
// Unset fields fall back to the defaults returned by the Get* methods, so
// partial files are valid.
type CompactConfig struct {
	SensorID *string `json:"sensor_id,omitempty"`

	// Validity filter bounds in metres, both exclusive.
	MinRangeM *float64 `json:"min_range_m,omitempty"`
	MaxRangeM *float64 `json:"max_range_m,omitempty"`

	// Aggregation
	AggregationKey *string `json:"aggregation_key,omitempty"` // "frame_number" or "telegram_counter"
	ScanQueueSize  *int    `json:"scan_queue_size,omitempty"`

	// Sinks
	SubscriberBuffer *int    `json:"subscriber_buffer,omitempty"`
	PersistPoints    *bool   `json:"persist_points,omitempty"`
	ScanRetention    *string `json:"scan_retention,omitempty"` // duration string; "0" keeps everything

	LogInterval *string `json:"log_interval,omitempty"` // duration string like "2s"

	// SensorPose is an optional row-major 4x4 sensor-to-world transform.
	SensorPose *[16]float64 `json:"sensor_pose,omitempty"`
}

const (
	defaultSensorID         = "compact-01"
	defaultMinRangeM        = 0.1
	defaultMaxRangeM        = 120.0
	defaultAggregationKey   = "frame_number"
	defaultScanQueueSize    = 8
	defaultSubscriberBuffer = 4
	defaultLogInterval      = 2 * time.Second
	defaultScanRetention    = 7 * 24 * time.Hour
)

var aggregationKeys = map[string]bool{
	"frame_number":     true,
	"frame":            true,
	"telegram_counter": true,
	"telegram":         true,
	"counter":          true,
}

// EmptyCompactConfig returns a config with every field unset.
func EmptyCompactConfig() *CompactConfig {
	return &CompactConfig{}
}

// LoadCompactConfig loads a CompactConfig from a JSON file. The file must
// have a .json extension and be at most 1MB.
func LoadCompactConfig(path string) (*CompactConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCompactConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are usable.
func (c *CompactConfig) Validate() error {
	if c.SensorID != nil && strings.TrimSpace(*c.SensorID) == "" {
		return fmt.Errorf("sensor_id must not be empty")
	}
	if c.MinRangeM != nil && *c.MinRangeM < 0 {
		return fmt.Errorf("min_range_m must be non-negative, got %f", *c.MinRangeM)
	}
	if c.MaxRangeM != nil && *c.MaxRangeM <= 0 {
		return fmt.Errorf("max_range_m must be positive, got %f", *c.MaxRangeM)
	}
	if c.GetMinRangeM() >= c.GetMaxRangeM() {
		return fmt.Errorf("min_range_m (%g) must be less than max_range_m (%g)", c.GetMinRangeM(), c.GetMaxRangeM())
	}

	if c.AggregationKey != nil && *c.AggregationKey != "" {
		if !aggregationKeys[strings.ToLower(*c.AggregationKey)] {
			return fmt.Errorf("aggregation_key must be frame_number or telegram_counter, got %q", *c.AggregationKey)
		}
	}

	if c.ScanQueueSize != nil && *c.ScanQueueSize < 1 {
		return fmt.Errorf("scan_queue_size must be at least 1, got %d", *c.ScanQueueSize)
	}
	if c.SubscriberBuffer != nil && *c.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber_buffer must be at least 1, got %d", *c.SubscriberBuffer)
	}

	if c.LogInterval != nil && *c.LogInterval != "" {
		d, err := time.ParseDuration(*c.LogInterval)
		if err != nil {
			return fmt.Errorf("invalid log_interval '%s': %w", *c.LogInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("log_interval must be positive, got %s", d)
		}
	}
	if c.ScanRetention != nil && *c.ScanRetention != "" {
		d, err := time.ParseDuration(*c.ScanRetention)
		if err != nil {
			return fmt.Errorf("invalid scan_retention '%s': %w", *c.ScanRetention, err)
		}
		if d < 0 {
			return fmt.Errorf("scan_retention must not be negative, got %s", d)
		}
	}

	if c.SensorPose != nil {
		// Affine transforms only.
		p := c.SensorPose
		if p[12] != 0 || p[13] != 0 || p[14] != 0 || p[15] != 1 {
			return fmt.Errorf("sensor_pose bottom row must be [0 0 0 1]")
		}
	}
	return nil
}

// GetSensorID returns the sensor_id value or the default.
func (c *CompactConfig) GetSensorID() string {
	if c.SensorID == nil || *c.SensorID == "" {
		return defaultSensorID
	}
	return *c.SensorID
}

// GetMinRangeM returns the min_range_m value or the default.
func (c *CompactConfig) GetMinRangeM() float64 {
	if c.MinRangeM == nil {
		return defaultMinRangeM
	}
	return *c.MinRangeM
}

// GetMaxRangeM returns the max_range_m value or the default.
func (c *CompactConfig) GetMaxRangeM() float64 {
	if c.MaxRangeM == nil {
		return defaultMaxRangeM
	}
	return *c.MaxRangeM
}

// GetAggregationKey returns the aggregation_key value or the default.
func (c *CompactConfig) GetAggregationKey() string {
	if c.AggregationKey == nil || *c.AggregationKey == "" {
		return defaultAggregationKey
	}
	return *c.AggregationKey
}

func (c *CompactConfig) GetScanQueueSize() int {
	if c.ScanQueueSize == nil {
		return defaultScanQueueSize
	}
	return *c.ScanQueueSize
}

func (c *CompactConfig) GetSubscriberBuffer() int {
	if c.SubscriberBuffer == nil {
		return defaultSubscriberBuffer
	}
	return *c.SubscriberBuffer
}

func (c *CompactConfig) GetPersistPoints() bool {
	return c.PersistPoints != nil && *c.PersistPoints
}

// GetLogInterval parses log_interval, falling back to the default.
func (c *CompactConfig) GetLogInterval() time.Duration {
	if c.LogInterval == nil || *c.LogInterval == "" {
		return defaultLogInterval
	}
	d, err := time.ParseDuration(*c.LogInterval)
	if err != nil || d <= 0 {
		return defaultLogInterval
	}
	return d
}

// GetScanRetention parses scan_retention. Zero disables pruning.
func (c *CompactConfig) GetScanRetention() time.Duration {
	if c.ScanRetention == nil || *c.ScanRetention == "" {
		return defaultScanRetention
	}
	d, err := time.ParseDuration(*c.ScanRetention)
	if err != nil || d < 0 {
		return defaultScanRetention
	}
	return d
}

// GetSensorPose returns the configured pose, or nil for the sensor frame.
func (c *CompactConfig) GetSensorPose() *[16]float64 {
	return c.SensorPose
}
