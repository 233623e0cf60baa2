// Package metrics wires the ingestion, storage, query, backpressure,
// and retention components into a single engine.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulsemetry/pulse/internal/errors"
	"github.com/pulsemetry/pulse/internal/logging"
	"github.com/pulsemetry/pulse/internal/metrics/backpressure"
	"github.com/pulsemetry/pulse/internal/metrics/config"
	"github.com/pulsemetry/pulse/internal/metrics/ingestion"
	"github.com/pulsemetry/pulse/internal/metrics/query"
	"github.com/pulsemetry/pulse/internal/metrics/retention"
	"github.com/pulsemetry/pulse/internal/metrics/store"
	"github.com/pulsemetry/pulse/internal/metrics/types"
	"github.com/pulsemetry/pulse/internal/metrics/wal"
)

// Engine is the complete analytics engine.
type Engine struct {
	config *config.Config

	store        *store.Store
	ingestion    *ingestion.Service
	query        *query.Service
	retention    *retention.Manager
	backpressure *backpressure.Controller

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a fully wired engine from configuration.
func NewEngine(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create data directories: %w", err)
	}

	st := store.New(store.Options{
		BucketSize:         cfg.Aggregation.BucketSize,
		Horizon:            cfg.Retention.Memory,
		PercentileEnabled:  cfg.Features.Percentile.Enabled,
		PercentileAccuracy: cfg.Features.Percentile.Accuracy,
	})

	ing, err := ingestion.New(cfg, st)
	if err != nil {
		return nil, fmt.Errorf("create ingestion service: %w", err)
	}

	qry, err := query.New(cfg, st, ing.Buffer())
	if err != nil {
		return nil, fmt.Errorf("create query service: %w", err)
	}

	ret := retention.New(cfg, st)

	bp := backpressure.New(cfg, ing.Buffer())
	bp.SetOnLevelChange(func(old, new backpressure.Level) {
		logging.Component("engine").Warn("backpressure level changed",
			"from", old.String(), "to", new.String())
	})

	return &Engine{
		config:       cfg,
		store:        st,
		ingestion:    ing,
		query:        qry,
		retention:    ret,
		backpressure: bp,
	}, nil
}

// Start replays the WAL and starts all background workers.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.ErrAlreadyRunning
	}

	log := logging.Component("engine")

	if e.config.Ingestion.WAL.Enabled {
		points, err := wal.ReadDir(e.config.WALDir())
		if err != nil {
			// Leave segments in place; a partial replay must not
			// discard what the reader could not decode.
			log.Warn("WAL replay incomplete", "error", err)
		} else {
			if len(points) > 0 {
				replayed := e.ingestion.Replay(points)
				log.Info("WAL replay complete", "points", replayed)
			}
			// The ingestion service already opened the next segment
			// in this directory; only the replayed ones go.
			if seq, ok := e.ingestion.WALSegmentSeq(); ok {
				if err := wal.RemoveSegmentsBefore(e.config.WALDir(), seq); err != nil {
					log.Warn("failed to remove replayed segments", "error", err)
				}
			}
		}
	}

	if err := e.ingestion.Start(); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(1)
	go e.retentionWorker()

	if e.backpressure.IsEnabled() {
		e.wg.Add(1)
		go e.backpressureWorker()
	}

	e.running = true
	log.Info("engine started",
		"bucket_size", e.config.Aggregation.BucketSize,
		"data_dir", e.config.DataDir)
	return nil
}

// Stop flushes pending data and stops all workers.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	e.cancel()
	e.wg.Wait()

	if err := e.ingestion.Stop(); err != nil {
		logging.Component("engine").Error("ingestion stop failed", "error", err)
	}
	if err := e.query.Close(); err != nil {
		logging.Component("engine").Error("query close failed", "error", err)
	}

	e.running = false
	logging.Component("engine").Info("engine stopped")
	return nil
}

// Ingest accepts a batch of points, subject to backpressure.
func (e *Engine) Ingest(points []types.Point) error {
	e.backpressure.Check()

	if e.backpressure.ShouldDrop() {
		e.backpressure.RecordDrop()
		return errors.Wrapf(errors.ErrBackpressure, "%d points dropped", len(points))
	}

	if e.backpressure.ShouldThrottle() {
		time.Sleep(e.backpressure.ThrottleDelay())
	}

	return e.ingestion.Ingest(points)
}

// Snapshot returns the most recent aggregate for key.
func (e *Engine) Snapshot(key int64) (types.BucketResult, error) {
	return e.query.Snapshot(key)
}

// Windowed returns a merged aggregate for key over the window.
func (e *Engine) Windowed(ctx context.Context, key int64, r query.Range) (types.BucketResult, error) {
	return e.query.Windowed(ctx, key, r)
}

// Buckets returns the per-bucket series for key over the window.
func (e *Engine) Buckets(ctx context.Context, key int64, r query.Range) ([]types.BucketResult, error) {
	return e.query.Buckets(ctx, key, r)
}

// Keys returns all keys currently known in memory.
func (e *Engine) Keys() []int64 {
	return e.query.Keys()
}

// ForceFlush triggers an immediate Parquet flush.
func (e *Engine) ForceFlush() {
	e.ingestion.ForceFlush()
}

// retentionWorker runs periodic retention passes.
func (e *Engine) retentionWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Retention.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			result := e.retention.Run()
			if result.Err != nil {
				logging.Component("engine").Error("retention pass failed", "error", result.Err)
			}
		}
	}
}

// backpressureWorker re-evaluates buffer pressure between ingests so
// the level recovers even when traffic stops.
func (e *Engine) backpressureWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.backpressure.Check()
		}
	}
}

// EngineStats aggregates statistics from all components.
type EngineStats struct {
	Ingestion    ingestion.ServiceStats
	Store        store.Stats
	Query        query.ServiceStats
	Retention    retention.ManagerStats
	Backpressure backpressure.ControllerStats
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Ingestion:    e.ingestion.Stats(),
		Store:        e.store.Stats(),
		Query:        e.query.Stats(),
		Retention:    e.retention.Stats(),
		Backpressure: e.backpressure.Stats(),
	}
}

// IsRunning reports whether the engine has been started.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.config
}
