package types

import "time"

// BucketResult represents aggregated statistics for one metric key over
// one fixed-width time window. This is the output of streaming aggregation.
type BucketResult struct {
	// Key identifies the metric series.
	Key int64 `json:"key"`

	// Time window, Unix milliseconds: start inclusive, end exclusive.
	BucketStart int64 `json:"bucket_start"`
	BucketEnd   int64 `json:"bucket_end"`

	// Basic statistics (always present). Min and Max are undefined
	// when Count == 0.
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`

	// Percentiles (optional, nil if not enabled)
	P50 *float64 `json:"p50,omitempty"`
	P90 *float64 `json:"p90,omitempty"`
	P95 *float64 `json:"p95,omitempty"`
	P99 *float64 `json:"p99,omitempty"`

	// Timestamps of actual points
	FirstTs int64 `json:"first_ts"`
	LastTs  int64 `json:"last_ts"`
}

// BucketStartTime returns the window start as a time.Time.
func (b *BucketResult) BucketStartTime() time.Time {
	return time.UnixMilli(b.BucketStart)
}

// BucketEndTime returns the window end as a time.Time.
func (b *BucketResult) BucketEndTime() time.Time {
	return time.UnixMilli(b.BucketEnd)
}

// Duration returns the window duration.
func (b *BucketResult) Duration() time.Duration {
	return time.Duration(b.BucketEnd-b.BucketStart) * time.Millisecond
}

// IsEmpty returns true if no points were aggregated.
func (b *BucketResult) IsEmpty() bool {
	return b.Count == 0
}

// HasPercentiles returns true if percentile data is available.
func (b *BucketResult) HasPercentiles() bool {
	return b.P50 != nil
}

// SetPercentiles sets all percentile values.
func (b *BucketResult) SetPercentiles(p50, p90, p95, p99 float64) {
	b.P50 = &p50
	b.P90 = &p90
	b.P95 = &p95
	b.P99 = &p99
}

// Overlaps reports whether the bucket window intersects [fromMs, toMs).
func (b *BucketResult) Overlaps(fromMs, toMs int64) bool {
	return b.BucketStart < toMs && b.BucketEnd > fromMs
}

// Fold merges another bucket's statistics into this one. Percentiles
// cannot be recombined from finished results and are dropped.
func (b *BucketResult) Fold(other *BucketResult) {
	if other == nil || other.Count == 0 {
		return
	}

	if b.Count == 0 {
		b.Min = other.Min
		b.Max = other.Max
		b.FirstTs = other.FirstTs
		b.LastTs = other.LastTs
	} else {
		if other.Min < b.Min {
			b.Min = other.Min
		}
		if other.Max > b.Max {
			b.Max = other.Max
		}
		if other.FirstTs != 0 && other.FirstTs < b.FirstTs {
			b.FirstTs = other.FirstTs
		}
		if other.LastTs > b.LastTs {
			b.LastTs = other.LastTs
		}
	}

	b.Count += other.Count
	b.Sum += other.Sum
	b.Avg = b.Sum / float64(b.Count)

	if other.BucketStart < b.BucketStart {
		b.BucketStart = other.BucketStart
	}
	if other.BucketEnd > b.BucketEnd {
		b.BucketEnd = other.BucketEnd
	}

	b.P50, b.P90, b.P95, b.P99 = nil, nil, nil, nil
}

// MergeBuckets folds a set of buckets for one key into a single combined
// result spanning their union. Returns an empty result for no input.
func MergeBuckets(key int64, buckets []BucketResult) BucketResult {
	if len(buckets) == 0 {
		return BucketResult{Key: key}
	}

	combined := buckets[0]
	combined.Key = key
	for i := 1; i < len(buckets); i++ {
		combined.Fold(&buckets[i])
	}
	if len(buckets) > 1 {
		combined.P50, combined.P90, combined.P95, combined.P99 = nil, nil, nil, nil
	}
	return combined
}

// BucketBatch represents a collection of bucket results.
type BucketBatch struct {
	Results []BucketResult
}

// NewBucketBatch creates a new batch with the given capacity.
func NewBucketBatch(capacity int) *BucketBatch {
	return &BucketBatch{
		Results: make([]BucketResult, 0, capacity),
	}
}

// Add appends a bucket result to the batch.
func (b *BucketBatch) Add(r BucketResult) {
	b.Results = append(b.Results, r)
}

// Len returns the number of results in the batch.
func (b *BucketBatch) Len() int {
	return len(b.Results)
}

// Clear resets the batch for reuse.
func (b *BucketBatch) Clear() {
	b.Results = b.Results[:0]
}
