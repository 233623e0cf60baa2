package types

import (
	"math"
	"time"
)

// Point represents a single data point for a metric key.
// This is the primary data unit flowing through the ingestion pipeline.
// Points are immutable once ingested.
type Point struct {
	// Key identifies the metric series.
	Key int64 `json:"key"`

	// TimestampMs is the point time as a Unix timestamp in milliseconds.
	// Zero means the ingest gateway stamps the point at arrival.
	TimestampMs int64 `json:"timestamp"`

	// Value is the measured value.
	Value float64 `json:"value"`
}

// TimestampTime returns the timestamp as a time.Time.
func (p *Point) TimestampTime() time.Time {
	return time.UnixMilli(p.TimestampMs)
}

// Valid reports whether the point carries a usable value.
// NaN and infinite values are rejected at ingest.
func (p *Point) Valid() bool {
	return !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0)
}

// PointBatch represents a collection of points for batch processing.
type PointBatch struct {
	Points []Point
}

// NewPointBatch creates a new batch with the given capacity.
func NewPointBatch(capacity int) *PointBatch {
	return &PointBatch{
		Points: make([]Point, 0, capacity),
	}
}

// Add appends a point to the batch.
func (b *PointBatch) Add(p Point) {
	b.Points = append(b.Points, p)
}

// Len returns the number of points in the batch.
func (b *PointBatch) Len() int {
	return len(b.Points)
}

// Clear resets the batch for reuse.
func (b *PointBatch) Clear() {
	b.Points = b.Points[:0]
}
