// Package store implements the aggregation store: rolling per-key time
// buckets with bounded in-memory retention.
//
// Each metric key owns a series guarded by its own mutex, so concurrent
// ingests for different keys proceed independently while ingests for the
// same bucket serialize. Reads copy bucket state under the series lock
// and therefore observe a consistent snapshot, never a half-applied point.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsemetry/pulse/internal/errors"
	"github.com/pulsemetry/pulse/internal/metrics/aggregate"
	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// Options configures the store.
type Options struct {
	// BucketSize is the fixed window width. Default: 1 minute.
	BucketSize time.Duration

	// Horizon is how long completed buckets stay in memory. Default: 24h.
	Horizon time.Duration

	// PercentileEnabled enables DDSketch percentiles on active buckets.
	PercentileEnabled bool

	// PercentileAccuracy is the DDSketch relative accuracy. Default: 0.01.
	PercentileAccuracy float64
}

// DefaultOptions returns default store options.
func DefaultOptions() Options {
	return Options{
		BucketSize:         time.Minute,
		Horizon:            24 * time.Hour,
		PercentileEnabled:  true,
		PercentileAccuracy: 0.01,
	}
}

// series holds all in-memory state for one metric key.
type series struct {
	mu sync.Mutex

	key    int64
	active *aggregate.StreamingBucket

	// Completed buckets ordered by BucketStart, trimmed to the horizon.
	completed []types.BucketResult

	// gone marks a series removed from the map by an eviction pass.
	// A writer holding a stale pointer must not fold into it.
	gone bool
}

// Store maintains rolling aggregates for all metric keys.
type Store struct {
	mu     sync.RWMutex
	series map[int64]*series

	opts Options

	// Completed buckets waiting to be flushed to durable storage.
	flushMu    sync.Mutex
	flushQueue []types.BucketResult

	// Statistics
	pointsRecorded   atomic.Int64
	bucketsCompleted atomic.Int64
	bucketsEvicted   atomic.Int64
	latePoints       atomic.Int64
}

// Stats holds store statistics.
type Stats struct {
	ActiveSeries     int64
	PointsRecorded   int64
	BucketsCompleted int64
	BucketsEvicted   int64
	LatePoints       int64
	FlushPending     int64
}

// New creates a new store.
func New(opts Options) *Store {
	if opts.BucketSize <= 0 {
		opts.BucketSize = DefaultOptions().BucketSize
	}
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultOptions().Horizon
	}
	if opts.PercentileAccuracy <= 0 {
		opts.PercentileAccuracy = DefaultOptions().PercentileAccuracy
	}

	return &Store{
		series:     make(map[int64]*series),
		opts:       opts,
		flushQueue: make([]types.BucketResult, 0, 1024),
	}
}

// Record folds a point into the correct time bucket for its key,
// creating the bucket lazily. Returns ErrInvalidPoint for NaN or
// infinite values.
func (s *Store) Record(p types.Point) error {
	if !p.Valid() {
		return errors.Wrapf(errors.ErrInvalidPoint, "key %d", p.Key)
	}

	ser := s.lockSeries(p.Key)
	defer ser.mu.Unlock()

	bucketStart, bucketEnd := s.calculateBucket(p.TimestampMs)

	switch {
	case ser.active == nil:
		ser.active = s.newBucket(p.Key, bucketStart, bucketEnd)

	case bucketStart > ser.active.BucketStart():
		// Window rolled: complete the active bucket, start a new one.
		if !ser.active.IsEmpty() {
			s.complete(ser, ser.active.Result())
		}
		ser.active.Reset(bucketStart, bucketEnd)

	case bucketStart < ser.active.BucketStart():
		// Late point for an already-completed window.
		s.recordLate(ser, p, bucketStart, bucketEnd)
		return nil
	}

	ser.active.AddPoint(p)
	s.addRecorded(1)
	return nil
}

// RecordBatch records multiple points. The first invalid point aborts
// with ErrInvalidPoint; points recorded before it stay recorded.
func (s *Store) RecordBatch(points []types.Point) error {
	for i := range points {
		if err := s.Record(points[i]); err != nil {
			return err
		}
	}
	return nil
}

// recordLate folds a point into the matching completed bucket, or
// recreates the bucket if it rolled off already but is still within the
// horizon. Caller holds ser.mu.
func (s *Store) recordLate(ser *series, p types.Point, bucketStart, bucketEnd int64) {
	s.latePoints.Add(1)

	cutoff := time.Now().Add(-s.opts.Horizon).UnixMilli()
	if bucketStart < cutoff {
		// Past the horizon; drop.
		return
	}

	for i := range ser.completed {
		if ser.completed[i].BucketStart == bucketStart {
			foldPoint(&ser.completed[i], p)
			// The window may already be on disk; queue the updated
			// bucket so the next flush supersedes the stale row.
			s.enqueueFlush(ser.completed[i])
			s.addRecorded(1)
			return
		}
	}

	// No completed bucket for this window yet: materialize one.
	late := types.BucketResult{Key: p.Key, BucketStart: bucketStart, BucketEnd: bucketEnd}
	foldPoint(&late, p)
	ser.completed = append(ser.completed, late)
	sort.Slice(ser.completed, func(i, j int) bool {
		return ser.completed[i].BucketStart < ser.completed[j].BucketStart
	})
	s.enqueueFlush(late)
	s.addRecorded(1)
}

// foldPoint folds a single point into a finished bucket result.
// Percentiles cannot be updated after the sketch is gone and are dropped.
func foldPoint(b *types.BucketResult, p types.Point) {
	if b.Count == 0 {
		b.Min = p.Value
		b.Max = p.Value
		b.FirstTs = p.TimestampMs
		b.LastTs = p.TimestampMs
	} else {
		if p.Value < b.Min {
			b.Min = p.Value
		}
		if p.Value > b.Max {
			b.Max = p.Value
		}
		if p.TimestampMs < b.FirstTs {
			b.FirstTs = p.TimestampMs
		}
		if p.TimestampMs > b.LastTs {
			b.LastTs = p.TimestampMs
		}
	}
	b.Count++
	b.Sum += p.Value
	b.Avg = b.Sum / float64(b.Count)
	b.P50, b.P90, b.P95, b.P99 = nil, nil, nil, nil
}

// complete moves a finished bucket into the series history and the
// flush queue. Caller holds ser.mu.
func (s *Store) complete(ser *series, result types.BucketResult) {
	ser.completed = append(ser.completed, result)
	s.enqueueFlush(result)
	s.bucketsCompleted.Add(1)
}

func (s *Store) enqueueFlush(result types.BucketResult) {
	s.flushMu.Lock()
	s.flushQueue = append(s.flushQueue, result)
	s.flushMu.Unlock()
}

// Snapshot returns the most recent bucket's aggregates for a key.
// Returns ErrNotFound if the key has never been seen.
func (s *Store) Snapshot(key int64) (types.BucketResult, error) {
	s.mu.RLock()
	ser := s.series[key]
	s.mu.RUnlock()

	if ser == nil {
		return types.BucketResult{}, errors.NewNotFound("key", key)
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()

	if ser.active != nil && !ser.active.IsEmpty() {
		return ser.active.Result(), nil
	}
	if n := len(ser.completed); n > 0 {
		return ser.completed[n-1], nil
	}
	return types.BucketResult{}, errors.NewNotFound("key", key)
}

// Buckets returns copies of all buckets for a key overlapping
// [fromMs, toMs), ordered by window start. The active bucket is included
// when it overlaps. A nil slice means no data in range.
func (s *Store) Buckets(key int64, fromMs, toMs int64) []types.BucketResult {
	s.mu.RLock()
	ser := s.series[key]
	s.mu.RUnlock()

	if ser == nil {
		return nil
	}

	ser.mu.Lock()
	defer ser.mu.Unlock()

	var results []types.BucketResult
	for i := range ser.completed {
		if ser.completed[i].Overlaps(fromMs, toMs) {
			results = append(results, ser.completed[i])
		}
	}

	if ser.active != nil && !ser.active.IsEmpty() {
		r := ser.active.Result()
		if r.Overlaps(fromMs, toMs) {
			results = append(results, r)
		}
	}

	return results
}

// Windowed merges all buckets overlapping [fromMs, toMs) into combined
// aggregates. An empty result (Count == 0) means no data in range.
func (s *Store) Windowed(key int64, fromMs, toMs int64) types.BucketResult {
	return types.MergeBuckets(key, s.Buckets(key, fromMs, toMs))
}

// FlushCompleted drains the queue of buckets completed since the last
// call. Used by the ingestion service to persist finished windows.
func (s *Store) FlushCompleted() []types.BucketResult {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if len(s.flushQueue) == 0 {
		return nil
	}

	out := s.flushQueue
	s.flushQueue = make([]types.BucketResult, 0, 1024)
	return out
}

// FlushAll completes every active bucket and drains the flush queue.
// Called during shutdown.
func (s *Store) FlushAll() []types.BucketResult {
	s.mu.RLock()
	all := make([]*series, 0, len(s.series))
	for _, ser := range s.series {
		all = append(all, ser)
	}
	s.mu.RUnlock()

	for _, ser := range all {
		ser.mu.Lock()
		if ser.active != nil && !ser.active.IsEmpty() {
			s.complete(ser, ser.active.Result())
			ser.active = nil
		}
		ser.mu.Unlock()
	}

	return s.FlushCompleted()
}

// FlushOlderThan completes active buckets whose window ended at or
// before cutoffMs and drains every queued bucket up to the cutoff.
// Newer completed buckets stay queued for the next flush.
func (s *Store) FlushOlderThan(cutoffMs int64) []types.BucketResult {
	s.mu.RLock()
	all := make([]*series, 0, len(s.series))
	for _, ser := range s.series {
		all = append(all, ser)
	}
	s.mu.RUnlock()

	for _, ser := range all {
		ser.mu.Lock()
		if ser.active != nil && !ser.active.IsEmpty() && ser.active.BucketEnd() <= cutoffMs {
			s.complete(ser, ser.active.Result())
			ser.active = nil
		}
		ser.mu.Unlock()
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var out []types.BucketResult
	kept := s.flushQueue[:0]
	for i := range s.flushQueue {
		if s.flushQueue[i].BucketEnd <= cutoffMs {
			out = append(out, s.flushQueue[i])
		} else {
			kept = append(kept, s.flushQueue[i])
		}
	}
	s.flushQueue = kept
	return out
}

// EvictOlderThan drops completed buckets whose window ended before
// cutoffMs and removes series left with no data. Returns the number of
// buckets evicted. Runs outside the ingest path and never holds a
// series lock while scanning another series.
func (s *Store) EvictOlderThan(cutoffMs int64) int {
	s.mu.RLock()
	all := make([]*series, 0, len(s.series))
	for _, ser := range s.series {
		all = append(all, ser)
	}
	s.mu.RUnlock()

	evicted := 0
	var emptyKeys []int64

	for _, ser := range all {
		ser.mu.Lock()
		kept := ser.completed[:0]
		for i := range ser.completed {
			if ser.completed[i].BucketEnd > cutoffMs {
				kept = append(kept, ser.completed[i])
			} else {
				evicted++
			}
		}
		ser.completed = kept

		empty := len(ser.completed) == 0 && (ser.active == nil || ser.active.IsEmpty())
		if empty {
			emptyKeys = append(emptyKeys, ser.key)
		}
		ser.mu.Unlock()
	}

	if len(emptyKeys) > 0 {
		s.mu.Lock()
		for _, key := range emptyKeys {
			ser := s.series[key]
			if ser == nil {
				continue
			}
			// Re-check under the series lock; an ingest may have raced in.
			ser.mu.Lock()
			if len(ser.completed) == 0 && (ser.active == nil || ser.active.IsEmpty()) {
				ser.gone = true
				delete(s.series, key)
			}
			ser.mu.Unlock()
		}
		s.mu.Unlock()
	}

	if evicted > 0 {
		s.bucketsEvicted.Add(int64(evicted))
	}

	return evicted
}

// Keys returns all known metric keys, sorted.
func (s *Store) Keys() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]int64, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SeriesCount returns the number of known metric keys.
func (s *Store) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

// BucketSize returns the configured window width.
func (s *Store) BucketSize() time.Duration {
	return s.opts.BucketSize
}

// Horizon returns the configured in-memory retention horizon.
func (s *Store) Horizon() time.Duration {
	return s.opts.Horizon
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	stats := Stats{
		ActiveSeries:     int64(s.SeriesCount()),
		PointsRecorded:   s.pointsRecorded.Load(),
		BucketsCompleted: s.bucketsCompleted.Load(),
		BucketsEvicted:   s.bucketsEvicted.Load(),
		LatePoints:       s.latePoints.Load(),
	}

	s.flushMu.Lock()
	stats.FlushPending = int64(len(s.flushQueue))
	s.flushMu.Unlock()

	return stats
}

func (s *Store) getOrCreateSeries(key int64) *series {
	s.mu.RLock()
	ser := s.series[key]
	s.mu.RUnlock()
	if ser != nil {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser = s.series[key]; ser != nil {
		return ser
	}
	ser = &series{key: key}
	s.series[key] = ser
	return ser
}

// lockSeries returns the series for key with its mutex held. Retries
// when an eviction pass deleted the series between lookup and lock, so
// a point never folds into a series the map no longer reaches.
func (s *Store) lockSeries(key int64) *series {
	for {
		ser := s.getOrCreateSeries(key)
		ser.mu.Lock()
		if !ser.gone {
			return ser
		}
		ser.mu.Unlock()
	}
}

func (s *Store) newBucket(key, bucketStart, bucketEnd int64) *aggregate.StreamingBucket {
	if s.opts.PercentileEnabled {
		return aggregate.NewWithAccuracy(key, bucketStart, bucketEnd, s.opts.PercentileAccuracy)
	}
	return aggregate.New(key, bucketStart, bucketEnd, false)
}

// calculateBucket calculates the window start and end for a timestamp.
func (s *Store) calculateBucket(timestampMs int64) (start, end int64) {
	bucketMs := s.opts.BucketSize.Milliseconds()
	start = (timestampMs / bucketMs) * bucketMs
	end = start + bucketMs
	return
}

func (s *Store) addRecorded(n int64) {
	s.pointsRecorded.Add(n)
}
