package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Aggregation configures bucket windows.
	Aggregation AggregationConfig `yaml:"aggregation"`

	// Features configures optional features.
	Features FeaturesConfig `yaml:"features"`

	// Retention defines how long data is kept.
	Retention RetentionConfig `yaml:"retention"`

	// Ingestion configures the ingestion pipeline.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Backpressure configures load shedding.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// ReadTimeout is the HTTP server read timeout.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the HTTP server write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AggregationConfig configures bucket windows.
type AggregationConfig struct {
	// BucketSize is the fixed window width for aggregates.
	BucketSize time.Duration `yaml:"bucket_size"`
}

// FeaturesConfig configures optional features.
type FeaturesConfig struct {
	// RawBuffer configures the in-memory raw point buffer.
	RawBuffer RawBufferConfig `yaml:"raw_buffer"`

	// Percentile configures DDSketch percentile calculation.
	Percentile PercentileConfig `yaml:"percentile"`

	// Compression configures Parquet compression.
	Compression CompressionConfig `yaml:"compression"`
}

// RawBufferConfig configures the in-memory raw point buffer.
type RawBufferConfig struct {
	// Enabled enables the raw buffer.
	Enabled bool `yaml:"enabled"`

	// Duration is the maximum age of points in the buffer.
	Duration time.Duration `yaml:"duration"`

	// Capacity is the maximum number of buffered points.
	Capacity int `yaml:"capacity"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// CompressionConfig configures Parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, none.
	Algorithm string `yaml:"algorithm"`
}

// RetentionConfig defines how long data is kept.
type RetentionConfig struct {
	// Memory is the in-memory bucket retention horizon.
	Memory time.Duration `yaml:"memory"`

	// Files is the retention for flushed Parquet files.
	Files time.Duration `yaml:"files"`

	// Interval is how often the retention task runs.
	Interval time.Duration `yaml:"interval"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	// WAL configures the Write-Ahead Log.
	WAL WALConfig `yaml:"wal"`

	// Flush configures flush behavior.
	Flush FlushConfig `yaml:"flush"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Enabled enables crash-safe point logging.
	Enabled bool `yaml:"enabled"`

	// SyncMode is the sync mode: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the sync interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// FlushConfig configures flush behavior.
type FlushConfig struct {
	// Interval is the completed-bucket flush interval.
	Interval time.Duration `yaml:"interval"`
}

// BackpressureConfig configures load shedding.
type BackpressureConfig struct {
	// Enabled enables backpressure handling.
	Enabled bool `yaml:"enabled"`

	// Thresholds defines buffer usage thresholds for level changes.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Recovery configures recovery behavior.
	Recovery BackpressureRecovery `yaml:"recovery"`
}

// BackpressureThresholds defines buffer usage thresholds.
type BackpressureThresholds struct {
	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0).
	Critical float64 `yaml:"critical"`

	// Emergency threshold (0.0-1.0).
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures recovery behavior.
type BackpressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-1.0).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level changes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of buckets returned per query.
	MaxRows int `yaml:"max_rows"`

	// DefaultWindow is the query window applied when no bounds are given.
	DefaultWindow time.Duration `yaml:"default_window"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/pulse",
		Server: ServerConfig{
			Listen:          "0.0.0.0:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Aggregation: AggregationConfig{
			BucketSize: time.Minute,
		},
		Features: FeaturesConfig{
			RawBuffer: RawBufferConfig{
				Enabled:  true,
				Duration: 5 * time.Minute,
				Capacity: 100000,
			},
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: 0.01,
			},
			Compression: CompressionConfig{
				Algorithm: "zstd",
			},
		},
		Retention: RetentionConfig{
			Memory:   24 * time.Hour,
			Files:    30 * 24 * time.Hour,
			Interval: time.Minute,
		},
		Ingestion: IngestionConfig{
			WAL: WALConfig{
				Enabled:        true,
				SyncMode:       "async",
				SyncInterval:   time.Second,
				MaxSegmentSize: 100 * 1024 * 1024, // 100MB
			},
			Flush: FlushConfig{
				Interval: time.Minute,
			},
		},
		Backpressure: BackpressureConfig{
			Enabled: true,
			Thresholds: BackpressureThresholds{
				Warning:   0.50,
				Critical:  0.80,
				Emergency: 0.95,
			},
			Recovery: BackpressureRecovery{
				Hysteresis: 0.10,
				Cooldown:   30 * time.Second,
			},
		},
		Query: QueryConfig{
			MemoryLimit:   "1GB",
			Timeout:       30 * time.Second,
			MaxRows:       100000,
			DefaultWindow: time.Hour,
		},
	}
}

// WALDir returns the WAL directory.
func (c *Config) WALDir() string {
	return filepath.Join(c.DataDir, "wal")
}

// BucketDir returns the directory for flushed bucket Parquet files.
func (c *Config) BucketDir() string {
	return filepath.Join(c.DataDir, "buckets")
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.WALDir(), c.BucketDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
