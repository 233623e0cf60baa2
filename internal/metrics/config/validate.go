package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}

	if err := c.Aggregation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("aggregation: %w", err))
	}

	if err := c.Features.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("features: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if err := c.Backpressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backpressure: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	return nil
}

// Validate checks the aggregation configuration.
func (c *AggregationConfig) Validate() error {
	if c.BucketSize <= 0 {
		return errors.New("bucket_size must be positive")
	}
	return nil
}

// Validate checks the features configuration.
func (c *FeaturesConfig) Validate() error {
	var errs []error

	if c.RawBuffer.Enabled {
		if c.RawBuffer.Duration <= 0 {
			errs = append(errs, errors.New("raw_buffer: duration must be positive when enabled"))
		}
		if c.RawBuffer.Capacity <= 0 {
			errs = append(errs, errors.New("raw_buffer: capacity must be positive when enabled"))
		}
	}

	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
			errs = append(errs, errors.New("percentile: accuracy must be in (0, 1)"))
		}
	}

	switch c.Compression.Algorithm {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		errs = append(errs, fmt.Errorf("compression: unknown algorithm %q", c.Compression.Algorithm))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Memory <= 0 {
		errs = append(errs, errors.New("memory horizon must be positive"))
	}
	if c.Files <= 0 {
		errs = append(errs, errors.New("file retention must be positive"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.Files < c.Memory {
		errs = append(errs, errors.New("file retention must not be shorter than memory horizon"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	var errs []error

	switch c.WAL.SyncMode {
	case "", "async", "sync", "fsync":
	default:
		errs = append(errs, fmt.Errorf("wal: unknown sync_mode %q", c.WAL.SyncMode))
	}

	if c.WAL.Enabled && c.WAL.MaxSegmentSize <= 0 {
		errs = append(errs, errors.New("wal: max_segment_size must be positive"))
	}

	if c.Flush.Interval <= 0 {
		errs = append(errs, errors.New("flush: interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	t := c.Thresholds

	for name, v := range map[string]float64{
		"warning":   t.Warning,
		"critical":  t.Critical,
		"emergency": t.Emergency,
	} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("threshold %s must be in (0, 1]", name))
		}
	}

	if t.Warning >= t.Critical || t.Critical >= t.Emergency {
		errs = append(errs, errors.New("thresholds must be strictly increasing: warning < critical < emergency"))
	}

	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= 1 {
		errs = append(errs, errors.New("recovery hysteresis must be in [0, 1)"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}
	if c.DefaultWindow <= 0 {
		errs = append(errs, errors.New("default_window must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
