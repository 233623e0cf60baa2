// Package retention enforces data retention limits.
//
// Two horizons apply: in-memory completed buckets are evicted past the
// memory horizon, and flushed Parquet files are deleted past the file
// horizon. File age is derived from the bucket timestamp encoded in
// the filename, so a scan never has to open a file.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsemetry/pulse/internal/logging"
	"github.com/pulsemetry/pulse/internal/metrics/config"
	"github.com/pulsemetry/pulse/internal/metrics/store"
)

// Manager enforces retention policies.
type Manager struct {
	config *config.Config
	store  *store.Store

	mu      sync.Mutex
	lastRun time.Time

	stats Stats

	// now is swappable for tests.
	now func() time.Time
}

// Stats holds retention statistics.
type Stats struct {
	RunsCompleted  atomic.Int64
	FilesDeleted   atomic.Int64
	BytesFreed     atomic.Int64
	BucketsEvicted atomic.Int64
	Errors         atomic.Int64
}

// New creates a new retention manager.
func New(cfg *config.Config, st *store.Store) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		config: cfg,
		store:  st,
		now:    time.Now,
	}
}

// Run performs one retention pass over memory and files.
func (m *Manager) Run() RunResult {
	return m.run(false)
}

// DryRun reports what a retention pass would delete without removing
// anything. Memory eviction is skipped entirely.
func (m *Manager) DryRun() RunResult {
	return m.run(true)
}

func (m *Manager) run(dry bool) RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := RunResult{StartedAt: m.now(), DryRun: dry}

	if m.store != nil && !dry {
		cutoff := m.now().Add(-m.config.Retention.Memory).UnixMilli()
		evicted := m.store.EvictOlderThan(cutoff)
		result.BucketsEvicted = evicted
		m.stats.BucketsEvicted.Add(int64(evicted))
	}

	deleted, freed, err := m.cleanFiles(dry)
	result.FilesDeleted = deleted
	result.BytesFreed = freed
	if err != nil {
		result.Err = err
		m.stats.Errors.Add(1)
	}

	result.Duration = m.now().Sub(result.StartedAt)

	if dry {
		return result
	}

	m.stats.FilesDeleted.Add(int64(deleted))
	m.stats.BytesFreed.Add(freed)
	m.stats.RunsCompleted.Add(1)
	m.lastRun = result.StartedAt

	if deleted > 0 || result.BucketsEvicted > 0 {
		logging.Component("retention").Info("retention pass complete",
			"files_deleted", deleted,
			"bytes_freed", freed,
			"buckets_evicted", result.BucketsEvicted,
			"duration", result.Duration)
	}

	return result
}

// RunResult describes the outcome of a single retention pass.
type RunResult struct {
	StartedAt      time.Time
	Duration       time.Duration
	FilesDeleted   int
	BytesFreed     int64
	BucketsEvicted int
	DryRun         bool
	Err            error
}

// cleanFiles deletes Parquet files older than the file retention
// horizon. In dry mode it only counts them.
func (m *Manager) cleanFiles(dry bool) (int, int64, error) {
	dir := m.config.BucketDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("read bucket dir: %w", err)
	}

	cutoff := m.now().Add(-m.config.Retention.Files)
	deleted := 0
	var freed int64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ts, ok := ParseFileTime(entry.Name())
		if !ok {
			continue
		}

		if !ts.Before(cutoff) {
			continue
		}

		info, err := entry.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}

		if !dry {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				logging.Component("retention").Warn("failed to delete file", "path", path, "error", err)
				continue
			}
		}

		deleted++
		freed += size
	}

	return deleted, freed, nil
}

// ParseFileTime extracts the bucket timestamp from a Parquet filename
// of the form "2006-01-02_15-04-05_<nanos>.parquet". The suffix after
// the timestamp disambiguates flushes and is ignored here.
func ParseFileTime(name string) (time.Time, bool) {
	if !strings.HasSuffix(name, ".parquet") {
		return time.Time{}, false
	}

	base := strings.TrimSuffix(name, ".parquet")
	const tsLen = len("2006-01-02_15-04-05")
	if len(base) > tsLen {
		if base[tsLen] != '_' {
			return time.Time{}, false
		}
		base = base[:tsLen]
	}

	ts, err := time.Parse("2006-01-02_15-04-05", base)
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}

// DiskUsage returns the total size in bytes of all Parquet files.
func (m *Manager) DiskUsage() (int64, int, error) {
	dir := m.config.BucketDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("read bucket dir: %w", err)
	}

	var total int64
	count := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		total += info.Size()
		count++
	}

	return total, count, nil
}

// LastRun returns the time of the last retention pass.
func (m *Manager) LastRun() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		RunsCompleted:  m.stats.RunsCompleted.Load(),
		FilesDeleted:   m.stats.FilesDeleted.Load(),
		BytesFreed:     m.stats.BytesFreed.Load(),
		BucketsEvicted: m.stats.BucketsEvicted.Load(),
		Errors:         m.stats.Errors.Load(),
	}
}

// ManagerStats holds retention statistics.
type ManagerStats struct {
	RunsCompleted  int64
	FilesDeleted   int64
	BytesFreed     int64
	BucketsEvicted int64
	Errors         int64
}
