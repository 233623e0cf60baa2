package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/pulsemetry/pulse/internal/errors"
	"github.com/pulsemetry/pulse/internal/metrics/config"
	"github.com/pulsemetry/pulse/internal/metrics/query"
	"github.com/pulsemetry/pulse/internal/metrics/types"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Ingestion.WAL.SyncMode = "sync"
	cfg.Backpressure.Enabled = false

	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { e.Stop() })

	return e
}

func TestEngineIngestAndQuery(t *testing.T) {
	e := testEngine(t)

	now := time.Now().UnixMilli()
	points := []types.Point{
		{Key: 1, TimestampMs: now, Value: 10},
		{Key: 1, TimestampMs: now + 1, Value: 20},
		{Key: 2, TimestampMs: now, Value: 5},
	}
	if err := e.Ingest(points); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	snap, err := e.Snapshot(1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Count != 2 || snap.Sum != 30 {
		t.Errorf("snapshot Count/Sum = %d/%f, want 2/30", snap.Count, snap.Sum)
	}

	r := query.Range{FromMs: now - 1000, ToMs: now + 1000}
	combined, err := e.Windowed(context.Background(), 1, r)
	if err != nil {
		t.Fatalf("Windowed: %v", err)
	}
	if combined.Count != 2 {
		t.Errorf("windowed Count = %d, want 2", combined.Count)
	}

	keys := e.Keys()
	if len(keys) != 2 {
		t.Errorf("len(keys) = %d, want 2", len(keys))
	}
}

func TestEngineUnknownKeyEmptyResult(t *testing.T) {
	e := testEngine(t)

	combined, err := e.Windowed(context.Background(), 404, query.Range{})
	if err != nil {
		t.Fatalf("Windowed(unknown) = %v, want nil", err)
	}
	if !combined.IsEmpty() {
		t.Errorf("expected empty result, got Count = %d", combined.Count)
	}

	if _, err := e.Snapshot(404); !errors.IsNotFound(err) {
		t.Errorf("Snapshot(unknown) = %v, want NotFound", err)
	}
}

func TestEngineStartIsIdempotentGuarded(t *testing.T) {
	e := testEngine(t)

	if err := e.Start(); !errors.Is(err, errors.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if !e.IsRunning() {
		t.Error("engine should be running")
	}
}

func TestEngineRecoversFromWAL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Ingestion.WAL.SyncMode = "sync"
	cfg.Backpressure.Enabled = false

	e1, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e1.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	now := time.Now().UnixMilli()
	if err := e1.Ingest([]types.Point{{Key: 1, TimestampMs: now, Value: 7}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := e1.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A second engine over the same data dir replays the WAL
	e2, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine restart: %v", err)
	}
	if err := e2.Start(); err != nil {
		t.Fatalf("Start restart: %v", err)
	}
	defer e2.Stop()

	r := query.Range{FromMs: now - 1000, ToMs: now + 1000}
	combined, err := e2.Windowed(context.Background(), 1, r)
	if err != nil {
		t.Fatalf("Windowed: %v", err)
	}
	if combined.Count < 1 {
		t.Errorf("recovered Count = %d, want >= 1", combined.Count)
	}
}

func TestEngineWALSurvivesSecondRestart(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Ingestion.WAL.SyncMode = "sync"
	cfg.Backpressure.Enabled = false

	now := time.Now().UnixMilli()

	e1, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e1.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e1.Ingest([]types.Point{{Key: 1, TimestampMs: now, Value: 7}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := e1.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The second engine replays run one and trims its segments. The
	// point it ingests afterwards goes to the segment its own writer
	// holds open, which the trim must leave alone.
	e2, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine restart: %v", err)
	}
	if err := e2.Start(); err != nil {
		t.Fatalf("Start restart: %v", err)
	}
	if err := e2.Ingest([]types.Point{{Key: 2, TimestampMs: now, Value: 9}}); err != nil {
		t.Fatalf("Ingest restart: %v", err)
	}
	if err := e2.Stop(); err != nil {
		t.Fatalf("Stop restart: %v", err)
	}

	// The third engine must recover run two's point from the WAL.
	e3, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine second restart: %v", err)
	}
	if err := e3.Start(); err != nil {
		t.Fatalf("Start second restart: %v", err)
	}
	defer e3.Stop()

	snap, err := e3.Snapshot(2)
	if err != nil {
		t.Fatalf("Snapshot after second restart: %v", err)
	}
	if snap.Count != 1 || snap.Sum != 9 {
		t.Errorf("recovered Count/Sum = %d/%f, want 1/9", snap.Count, snap.Sum)
	}
}

func TestEngineStats(t *testing.T) {
	e := testEngine(t)

	now := time.Now().UnixMilli()
	e.Ingest([]types.Point{{Key: 1, TimestampMs: now, Value: 1}})

	stats := e.Stats()
	if stats.Ingestion.PointsIngested != 1 {
		t.Errorf("PointsIngested = %d, want 1", stats.Ingestion.PointsIngested)
	}
	if stats.Store.ActiveSeries != 1 {
		t.Errorf("ActiveSeries = %d, want 1", stats.Store.ActiveSeries)
	}
}
