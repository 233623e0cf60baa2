// Package types defines the core data types used throughout the metrics engine.
//
// Key types:
//   - Point: A single ingested data point for a metric key
//   - BucketResult: Aggregated statistics for one key over one time window
package types
