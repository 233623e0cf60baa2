package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// StreamingBucket maintains running statistics for a single time bucket
// of one metric key. It supports optional percentile calculation using
// DDSketch.
//
// A bucket has exactly one owner at a time: all mutation goes through
// the internal mutex, so concurrent folds into the same bucket serialize
// while folds into different buckets proceed independently.
type StreamingBucket struct {
	mu sync.Mutex

	// Identity
	key int64

	// Time window
	bucketStart int64 // Unix milliseconds, inclusive
	bucketEnd   int64 // Unix milliseconds, exclusive

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs int64
	lastTs  int64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch

	accuracy float64
}

// New creates a new StreamingBucket for the given window.
func New(key int64, bucketStart, bucketEnd int64, enablePercentile bool) *StreamingBucket {
	b := &StreamingBucket{
		key:         key,
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
		min:         math.MaxFloat64,
		max:         -math.MaxFloat64,
		accuracy:    0.01,
	}

	if enablePercentile {
		sketch, err := ddsketch.NewDefaultDDSketch(b.accuracy)
		if err == nil {
			b.sketch = sketch
		}
	}

	return b
}

// NewWithAccuracy creates a new StreamingBucket with custom percentile accuracy.
func NewWithAccuracy(key int64, bucketStart, bucketEnd int64, accuracy float64) *StreamingBucket {
	b := &StreamingBucket{
		key:         key,
		bucketStart: bucketStart,
		bucketEnd:   bucketEnd,
		min:         math.MaxFloat64,
		max:         -math.MaxFloat64,
		accuracy:    accuracy,
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		b.sketch = sketch
	}

	return b
}

// Add folds a value into the bucket.
func (b *StreamingBucket) Add(value float64, timestampMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	b.sum += value

	if value < b.min {
		b.min = value
	}
	if value > b.max {
		b.max = value
	}

	if b.firstTs == 0 || timestampMs < b.firstTs {
		b.firstTs = timestampMs
	}
	if timestampMs > b.lastTs {
		b.lastTs = timestampMs
	}

	if b.sketch != nil {
		b.sketch.Add(value)
	}
}

// AddPoint folds a point into the bucket. Invalid points are ignored.
func (b *StreamingBucket) AddPoint(p types.Point) {
	if !p.Valid() {
		return
	}
	b.Add(p.Value, p.TimestampMs)
}

// Count returns the number of points added.
func (b *StreamingBucket) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// IsEmpty returns true if no points have been added.
func (b *StreamingBucket) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == 0
}

// Result returns a snapshot of the aggregation state. The returned
// value is an independent copy: callers never observe later mutation.
func (b *StreamingBucket) Result() types.BucketResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := types.BucketResult{
		Key:         b.key,
		BucketStart: b.bucketStart,
		BucketEnd:   b.bucketEnd,
		Count:       b.count,
		Sum:         b.sum,
		FirstTs:     b.firstTs,
		LastTs:      b.lastTs,
	}

	if b.count > 0 {
		result.Avg = b.sum / float64(b.count)
		result.Min = b.min
		result.Max = b.max
	}

	if b.sketch != nil && b.count > 0 {
		p50, _ := b.sketch.GetValueAtQuantile(0.50)
		p90, _ := b.sketch.GetValueAtQuantile(0.90)
		p95, _ := b.sketch.GetValueAtQuantile(0.95)
		p99, _ := b.sketch.GetValueAtQuantile(0.99)
		result.SetPercentiles(p50, p90, p95, p99)
	}

	return result
}

// Reset reuses the bucket for a new window.
func (b *StreamingBucket) Reset(bucketStart, bucketEnd int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bucketStart = bucketStart
	b.bucketEnd = bucketEnd
	b.count = 0
	b.sum = 0
	b.min = math.MaxFloat64
	b.max = -math.MaxFloat64
	b.firstTs = 0
	b.lastTs = 0

	if b.sketch != nil {
		// DDSketch has no Clear, so build a fresh one
		newSketch, err := ddsketch.NewDefaultDDSketch(b.accuracy)
		if err == nil {
			b.sketch = newSketch
		}
	}
}

// Merge combines another bucket into this one.
// Both buckets must cover the same time window.
func (b *StreamingBucket) Merge(other *StreamingBucket) {
	if other == nil || other.count == 0 {
		return
	}

	b.mu.Lock()
	other.mu.Lock()
	defer b.mu.Unlock()
	defer other.mu.Unlock()

	b.count += other.count
	b.sum += other.sum

	if other.min < b.min {
		b.min = other.min
	}
	if other.max > b.max {
		b.max = other.max
	}

	if b.firstTs == 0 || (other.firstTs != 0 && other.firstTs < b.firstTs) {
		b.firstTs = other.firstTs
	}
	if other.lastTs > b.lastTs {
		b.lastTs = other.lastTs
	}

	if b.sketch != nil && other.sketch != nil {
		b.sketch.MergeWith(other.sketch)
	}
}

// Key returns the metric key this bucket aggregates.
func (b *StreamingBucket) Key() int64 {
	return b.key
}

// BucketStart returns the window start timestamp.
func (b *StreamingBucket) BucketStart() int64 {
	return b.bucketStart
}

// BucketEnd returns the window end timestamp.
func (b *StreamingBucket) BucketEnd() int64 {
	return b.bucketEnd
}

// BucketDuration returns the window duration.
func (b *StreamingBucket) BucketDuration() time.Duration {
	return time.Duration(b.bucketEnd-b.bucketStart) * time.Millisecond
}
