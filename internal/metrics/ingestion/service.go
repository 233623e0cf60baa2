// Package ingestion implements the ingest gateway.
//
// It orchestrates the point pipeline: validation and timestamping,
// crash-safe WAL append, the hot ring buffer, and the aggregation
// store. Completed buckets are flushed to Parquet in the background;
// nothing in the aggregation path performs blocking I/O beyond the
// buffered WAL append.
package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsemetry/pulse/internal/errors"
	"github.com/pulsemetry/pulse/internal/logging"
	"github.com/pulsemetry/pulse/internal/metrics/buffer"
	"github.com/pulsemetry/pulse/internal/metrics/config"
	"github.com/pulsemetry/pulse/internal/metrics/parquet"
	"github.com/pulsemetry/pulse/internal/metrics/store"
	"github.com/pulsemetry/pulse/internal/metrics/types"
	"github.com/pulsemetry/pulse/internal/metrics/wal"
)

// Service orchestrates the point ingestion pipeline.
// Flow: Points → WAL → Buffer → Aggregation Store → Parquet
type Service struct {
	config *config.Config

	// Components
	buffer *buffer.RingBuffer
	wal    *wal.Writer
	store  *store.Store

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats

	// Channels
	flushCh chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// Stats holds ingestion statistics.
type Stats struct {
	PointsReceived   atomic.Int64
	PointsIngested   atomic.Int64
	PointsRejected   atomic.Int64
	PointsDropped    atomic.Int64
	BatchesProcessed atomic.Int64
	FlushesCompleted atomic.Int64
	BucketsWritten   atomic.Int64
	Errors           atomic.Int64
}

// New creates a new ingestion service backed by the given store.
func New(cfg *config.Config, st *store.Store) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	capacity := cfg.Features.RawBuffer.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	ringBuffer := buffer.New(capacity)

	var walWriter *wal.Writer
	if cfg.Ingestion.WAL.Enabled {
		walOpts := wal.Options{
			MaxSegmentSize: cfg.Ingestion.WAL.MaxSegmentSize,
			SyncMode:       cfg.Ingestion.WAL.SyncMode,
			SyncInterval:   cfg.Ingestion.WAL.SyncInterval,
		}

		var err error
		walWriter, err = wal.NewWriter(cfg.WALDir(), walOpts)
		if err != nil {
			return nil, fmt.Errorf("create WAL writer: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:  cfg,
		buffer:  ringBuffer,
		wal:     walWriter,
		store:   st,
		ctx:     ctx,
		cancel:  cancel,
		flushCh: make(chan struct{}, 1),
		now:     time.Now,
	}, nil
}

// Start starts the ingestion service.
func (s *Service) Start() error {
	if s.running.Load() {
		return errors.ErrAlreadyRunning
	}

	s.running.Store(true)

	s.wg.Add(1)
	go s.flushWorker()

	s.wg.Add(1)
	go s.evictionWorker()

	if s.wal != nil && s.config.Ingestion.WAL.SyncMode == "async" {
		s.wg.Add(1)
		go s.walSyncWorker()
	}

	return nil
}

// Stop stops the ingestion service gracefully.
func (s *Service) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()
	s.wg.Wait()

	// Final flush of everything still in memory
	s.flushAll()

	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			return fmt.Errorf("close WAL: %w", err)
		}
	}

	return nil
}

// Ingest validates, timestamps, and ingests a batch of points.
// Points with NaN or infinite values are rejected; the rest of the
// batch is still ingested, and ErrInvalidPoint is returned if any point
// was rejected.
func (s *Service) Ingest(points []types.Point) error {
	if !s.running.Load() {
		return errors.ErrShutdown
	}

	if len(points) == 0 {
		return nil
	}

	s.stats.PointsReceived.Add(int64(len(points)))

	nowMs := s.now().UnixMilli()
	valid := make([]types.Point, 0, len(points))
	rejected := 0

	for i := range points {
		p := points[i]
		if p.TimestampMs == 0 {
			p.TimestampMs = nowMs
		}
		if !p.Valid() {
			rejected++
			continue
		}
		valid = append(valid, p)
	}

	// Write to WAL first (crash safety)
	if s.wal != nil && len(valid) > 0 {
		if err := s.wal.Write(valid); err != nil {
			s.stats.Errors.Add(1)
			return fmt.Errorf("WAL write: %w", err)
		}
	}

	ingested := 0
	dropped := 0

	for i := range valid {
		p := valid[i]

		if s.config.Features.RawBuffer.Enabled {
			if s.buffer.Push(p) {
				ingested++
			} else {
				dropped++
			}
		} else {
			ingested++
		}

		if err := s.store.Record(p); err != nil {
			// Valid() already filtered value errors; anything here is
			// a store-internal fault.
			s.stats.Errors.Add(1)
		}
	}

	s.stats.PointsIngested.Add(int64(ingested))
	s.stats.PointsDropped.Add(int64(dropped))
	s.stats.PointsRejected.Add(int64(rejected))
	s.stats.BatchesProcessed.Add(1)

	if rejected > 0 {
		return errors.Wrapf(errors.ErrInvalidPoint, "%d of %d points rejected", rejected, len(points))
	}
	return nil
}

// IngestSingle ingests a single point.
func (s *Service) IngestSingle(p types.Point) error {
	return s.Ingest([]types.Point{p})
}

// Replay feeds WAL-recovered points back into the store without
// re-logging them. Called once at startup before Start.
func (s *Service) Replay(points []types.Point) int {
	replayed := 0
	for i := range points {
		if err := s.store.Record(points[i]); err != nil {
			continue
		}
		replayed++
	}
	return replayed
}

// flushWorker periodically flushes completed buckets.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Ingestion.Flush.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flushCompleted()
		case <-s.flushCh:
			s.flushCompleted()
		}
	}
}

// evictionWorker periodically evicts old points from the buffer.
func (s *Service) evictionWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.evictOldPoints()
		}
	}
}

// walSyncWorker periodically syncs the WAL in async mode.
func (s *Service) walSyncWorker() {
	defer s.wg.Done()

	interval := s.config.Ingestion.WAL.SyncInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.wal.Sync(); err != nil {
				s.stats.Errors.Add(1)
			}
		}
	}
}

// flushCompleted flushes completed buckets to Parquet.
func (s *Service) flushCompleted() {
	buckets := s.store.FlushCompleted()
	if len(buckets) == 0 {
		return
	}

	if err := s.writeBuckets(buckets); err != nil {
		s.stats.Errors.Add(1)
		logging.Component("ingestion").Error("flush failed", "error", err, "buckets", len(buckets))
		return
	}

	s.stats.BucketsWritten.Add(int64(len(buckets)))
	s.stats.FlushesCompleted.Add(1)
}

// flushAll flushes all data (used during shutdown).
func (s *Service) flushAll() {
	buckets := s.store.FlushAll()
	if len(buckets) > 0 {
		if err := s.writeBuckets(buckets); err != nil {
			logging.Component("ingestion").Error("final flush failed", "error", err)
		} else {
			s.stats.BucketsWritten.Add(int64(len(buckets)))
		}
	}

	if s.wal != nil {
		if err := s.wal.Sync(); err != nil {
			s.stats.Errors.Add(1)
			logging.Component("ingestion").Error("final WAL sync failed", "error", err)
		}
	}
}

// writeBuckets writes completed buckets to a Parquet file.
func (s *Service) writeBuckets(buckets []types.BucketResult) error {
	if len(buckets) == 0 {
		return nil
	}

	// Name the file after the earliest window it contains
	earliest := buckets[0].BucketStart
	for i := range buckets {
		if buckets[i].BucketStart < earliest {
			earliest = buckets[i].BucketStart
		}
	}

	// The nanosecond suffix keeps two flushes covering the same
	// earliest window from truncating each other.
	filename := fmt.Sprintf("%s_%d.parquet",
		time.UnixMilli(earliest).UTC().Format("2006-01-02_15-04-05"),
		time.Now().UnixNano())
	path := filepath.Join(s.config.BucketDir(), filename)

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(s.config.Features.Compression.Algorithm)

	writer, err := parquet.NewBucketWriter(path, opts)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	defer writer.Close()

	if err := writer.WriteBuckets(buckets); err != nil {
		return fmt.Errorf("write buckets: %w", err)
	}

	return nil
}

// evictOldPoints evicts buffered points older than the configured duration.
func (s *Service) evictOldPoints() {
	if !s.config.Features.RawBuffer.Enabled {
		return
	}

	cutoff := s.now().Add(-s.config.Features.RawBuffer.Duration).UnixMilli()
	s.buffer.EvictOlderThan(cutoff)
}

// WALSegmentSeq returns the sequence of the active WAL segment.
// Reports false when the WAL is disabled.
func (s *Service) WALSegmentSeq() (int64, bool) {
	if s.wal == nil {
		return 0, false
	}
	return s.wal.CurrentSeq(), true
}

// ForceFlush triggers an immediate flush.
func (s *Service) ForceFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	bufferStats := s.buffer.Stats()
	storeStats := s.store.Stats()

	stats := ServiceStats{
		Running:          s.running.Load(),
		PointsReceived:   s.stats.PointsReceived.Load(),
		PointsIngested:   s.stats.PointsIngested.Load(),
		PointsRejected:   s.stats.PointsRejected.Load(),
		PointsDropped:    s.stats.PointsDropped.Load(),
		BatchesProcessed: s.stats.BatchesProcessed.Load(),
		FlushesCompleted: s.stats.FlushesCompleted.Load(),
		BucketsWritten:   s.stats.BucketsWritten.Load(),
		Errors:           s.stats.Errors.Load(),
		BufferUsage:      bufferStats.UsageRatio,
		BufferCount:      bufferStats.Count,
		ActiveSeries:     storeStats.ActiveSeries,
	}

	if s.wal != nil {
		walStats := s.wal.Stats()
		stats.WALSegments = walStats.SegmentsCreated
		stats.WALBytesWritten = walStats.BytesWritten
	}

	return stats
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running          bool
	PointsReceived   int64
	PointsIngested   int64
	PointsRejected   int64
	PointsDropped    int64
	BatchesProcessed int64
	FlushesCompleted int64
	BucketsWritten   int64
	Errors           int64
	BufferUsage      float64
	BufferCount      int
	WALSegments      int64
	WALBytesWritten  int64
	ActiveSeries     int64
}

// Buffer returns the ring buffer for queries.
func (s *Service) Buffer() *buffer.RingBuffer {
	return s.buffer
}

// Store returns the aggregation store.
func (s *Service) Store() *store.Store {
	return s.store
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
