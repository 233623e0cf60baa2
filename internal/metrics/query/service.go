// Package query implements the read side of the engine.
//
// Queries merge three tiers: flushed Parquet files (via DuckDB),
// completed and active buckets held in memory, and optionally the raw
// point buffer. Reads are snapshot-consistent per bucket and never
// mutate store state. An empty result is not an error.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/pulsemetry/pulse/internal/errors"
	"github.com/pulsemetry/pulse/internal/logging"
	"github.com/pulsemetry/pulse/internal/metrics/buffer"
	"github.com/pulsemetry/pulse/internal/metrics/config"
	"github.com/pulsemetry/pulse/internal/metrics/store"
	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// Service executes analytics queries.
type Service struct {
	config *config.Config
	store  *store.Store
	buffer *buffer.RingBuffer

	db *sql.DB

	stats Stats

	// now is swappable for tests.
	now func() time.Time
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	QueriesFailed   atomic.Int64
	QueriesRetried  atomic.Int64
	RowsReturned    atomic.Int64
}

// New creates a new query service. The ring buffer is optional.
func New(cfg *config.Config, st *store.Store, buf *buffer.RingBuffer) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Query.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		config: cfg,
		store:  st,
		buffer: buf,
		db:     db,
		now:    time.Now,
	}, nil
}

// Close releases database resources.
func (s *Service) Close() error {
	return s.db.Close()
}

// Range is a query time window in epoch milliseconds.
type Range struct {
	FromMs int64
	ToMs   int64
}

// NormalizeRange applies defaults and validates a window. A zero To
// means now; a zero From means To minus the configured default window.
func (s *Service) NormalizeRange(r Range) (Range, error) {
	if r.ToMs == 0 {
		r.ToMs = s.now().UnixMilli()
	}
	if r.FromMs == 0 {
		r.FromMs = r.ToMs - s.config.Query.DefaultWindow.Milliseconds()
	}
	if r.FromMs >= r.ToMs {
		return r, errors.Wrapf(errors.ErrInvalidRange, "from %d not before to %d", r.FromMs, r.ToMs)
	}
	return r, nil
}

// Windowed returns a single merged aggregate for key over the window.
// An unknown key or a window with no data yields an empty result.
func (s *Service) Windowed(ctx context.Context, key int64, r Range) (types.BucketResult, error) {
	buckets, err := s.Buckets(ctx, key, r)
	if err != nil {
		return types.BucketResult{}, err
	}
	return types.MergeBuckets(key, buckets), nil
}

// Buckets returns the per-bucket series for key over the window,
// merged across Parquet files and in-memory buckets. Memory wins when
// both tiers hold the same bucket.
func (s *Service) Buckets(ctx context.Context, key int64, r Range) ([]types.BucketResult, error) {
	r, err := s.NormalizeRange(r)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Query.Timeout)
	defer cancel()

	s.stats.QueriesExecuted.Add(1)

	fileBuckets, err := s.queryFilesRetry(ctx, key, r)
	if err != nil {
		s.stats.QueriesFailed.Add(1)
		return nil, err
	}

	memBuckets := s.store.Buckets(key, r.FromMs, r.ToMs)

	merged := mergeTiers(fileBuckets, memBuckets)
	s.stats.RowsReturned.Add(int64(len(merged)))
	return merged, nil
}

// Snapshot returns the most recent aggregate for key.
func (s *Service) Snapshot(key int64) (types.BucketResult, error) {
	return s.store.Snapshot(key)
}

// RawPoints returns buffered raw points for key over the window.
// Returns nil when the raw buffer is disabled.
func (s *Service) RawPoints(key int64, r Range) ([]types.Point, error) {
	if s.buffer == nil {
		return nil, nil
	}
	r, err := s.NormalizeRange(r)
	if err != nil {
		return nil, err
	}
	return s.buffer.QueryKey(key, r.FromMs, r.ToMs, s.config.Query.MaxRows), nil
}

// Keys returns all keys currently known to the in-memory store.
func (s *Service) Keys() []int64 {
	return s.store.Keys()
}

// queryFilesRetry queries Parquet and retries once on a transient
// storage fault.
func (s *Service) queryFilesRetry(ctx context.Context, key int64, r Range) ([]types.BucketResult, error) {
	buckets, err := s.queryFiles(ctx, key, r)
	if err == nil {
		return buckets, nil
	}
	if ctx.Err() != nil {
		return nil, errors.Wrap(errors.ErrTimeout, "query cancelled")
	}

	s.stats.QueriesRetried.Add(1)
	logging.Component("query").Warn("parquet query failed, retrying", "key", key, "error", err)

	buckets, err = s.queryFiles(ctx, key, r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, err.Error())
	}
	return buckets, nil
}

// queryFiles reads matching buckets from flushed Parquet files.
func (s *Service) queryFiles(ctx context.Context, key int64, r Range) ([]types.BucketResult, error) {
	dir := s.config.BucketDir()
	if !hasParquetFiles(dir) {
		return nil, nil
	}

	glob := filepath.Join(dir, "*.parquet")
	query := fmt.Sprintf(`
		SELECT key, bucket_start, bucket_end, count, sum, min, max, avg,
		       p50, p90, p95, p99, first_ts, last_ts
		FROM read_parquet('%s')
		WHERE key = ? AND bucket_end > ? AND bucket_start < ?
		ORDER BY bucket_start
		LIMIT ?`, escapePath(glob))

	rows, err := s.db.QueryContext(ctx, query, key, r.FromMs, r.ToMs, s.config.Query.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("parquet query: %w", err)
	}
	defer rows.Close()

	var buckets []types.BucketResult
	for rows.Next() {
		var b types.BucketResult
		var p50, p90, p95, p99 sql.NullFloat64

		err := rows.Scan(&b.Key, &b.BucketStart, &b.BucketEnd, &b.Count,
			&b.Sum, &b.Min, &b.Max, &b.Avg,
			&p50, &p90, &p95, &p99, &b.FirstTs, &b.LastTs)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if p50.Valid {
			b.P50 = &p50.Float64
		}
		if p90.Valid {
			b.P90 = &p90.Float64
		}
		if p95.Valid {
			b.P95 = &p95.Float64
		}
		if p99.Valid {
			b.P99 = &p99.Float64
		}

		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return dedupeRows(buckets), nil
}

// dedupeRows collapses windows flushed more than once, such as a
// bucket rewritten after a late point folded in. Counts only grow per
// window, so the highest count is the most recent version. Input is
// ordered by bucket start.
func dedupeRows(buckets []types.BucketResult) []types.BucketResult {
	out := buckets[:0]
	for i := range buckets {
		n := len(out)
		if n > 0 && out[n-1].BucketStart == buckets[i].BucketStart {
			if buckets[i].Count > out[n-1].Count {
				out[n-1] = buckets[i]
			}
			continue
		}
		out = append(out, buckets[i])
	}
	return out
}

// mergeTiers merges file and memory buckets, deduplicating by bucket
// start with memory taking precedence.
func mergeTiers(fileBuckets, memBuckets []types.BucketResult) []types.BucketResult {
	if len(memBuckets) == 0 {
		return fileBuckets
	}

	inMem := make(map[int64]struct{}, len(memBuckets))
	for i := range memBuckets {
		inMem[memBuckets[i].BucketStart] = struct{}{}
	}

	merged := make([]types.BucketResult, 0, len(fileBuckets)+len(memBuckets))
	for i := range fileBuckets {
		if _, dup := inMem[fileBuckets[i].BucketStart]; dup {
			continue
		}
		merged = append(merged, fileBuckets[i])
	}
	merged = append(merged, memBuckets...)

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].BucketStart < merged[j].BucketStart
	})

	return merged
}

// hasParquetFiles reports whether dir contains at least one Parquet
// file. DuckDB errors on a glob that matches nothing.
func hasParquetFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".parquet") {
			return true
		}
	}
	return false
}

// escapePath escapes single quotes for embedding in a SQL literal.
func escapePath(p string) string {
	return strings.ReplaceAll(p, "'", "''")
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		QueriesFailed:   s.stats.QueriesFailed.Load(),
		QueriesRetried:  s.stats.QueriesRetried.Load(),
		RowsReturned:    s.stats.RowsReturned.Load(),
	}
}

// ServiceStats holds query statistics.
type ServiceStats struct {
	QueriesExecuted int64
	QueriesFailed   int64
	QueriesRetried  int64
	RowsReturned    int64
}
