package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int

	// PageSize is the target page size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
		PageSize:     1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// BucketRow represents a completed bucket in Parquet format.
type BucketRow struct {
	Key         int64   `parquet:"key"`
	BucketStart int64   `parquet:"bucket_start"`
	BucketEnd   int64   `parquet:"bucket_end"`
	Count       int64   `parquet:"count"`
	Sum         float64 `parquet:"sum"`
	Min         float64 `parquet:"min"`
	Max         float64 `parquet:"max"`
	Avg         float64 `parquet:"avg"`
	P50         *float64 `parquet:"p50,optional"`
	P90         *float64 `parquet:"p90,optional"`
	P95         *float64 `parquet:"p95,optional"`
	P99         *float64 `parquet:"p99,optional"`
	FirstTs     int64   `parquet:"first_ts"`
	LastTs      int64   `parquet:"last_ts"`
}

// BucketToRow converts a BucketResult to a BucketRow.
func BucketToRow(b *types.BucketResult) BucketRow {
	row := BucketRow{
		Key:         b.Key,
		BucketStart: b.BucketStart,
		BucketEnd:   b.BucketEnd,
		Count:       b.Count,
		Sum:         b.Sum,
		Min:         b.Min,
		Max:         b.Max,
		Avg:         b.Avg,
		FirstTs:     b.FirstTs,
		LastTs:      b.LastTs,
	}

	if b.P50 != nil {
		v := *b.P50
		row.P50 = &v
	}
	if b.P90 != nil {
		v := *b.P90
		row.P90 = &v
	}
	if b.P95 != nil {
		v := *b.P95
		row.P95 = &v
	}
	if b.P99 != nil {
		v := *b.P99
		row.P99 = &v
	}

	return row
}

// RowToBucket converts a BucketRow to a BucketResult.
func RowToBucket(r *BucketRow) types.BucketResult {
	result := types.BucketResult{
		Key:         r.Key,
		BucketStart: r.BucketStart,
		BucketEnd:   r.BucketEnd,
		Count:       r.Count,
		Sum:         r.Sum,
		Min:         r.Min,
		Max:         r.Max,
		Avg:         r.Avg,
		FirstTs:     r.FirstTs,
		LastTs:      r.LastTs,
	}

	// Null columns stay nil; a present zero is a real quantile.
	if r.P50 != nil {
		v := *r.P50
		result.P50 = &v
	}
	if r.P90 != nil {
		v := *r.P90
		result.P90 = &v
	}
	if r.P95 != nil {
		v := *r.P95
		result.P95 = &v
	}
	if r.P99 != nil {
		v := *r.P99
		result.P99 = &v
	}

	return result
}

// BucketWriter writes completed buckets to a Parquet file.
type BucketWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[BucketRow]
	rowCount int64
	closed   bool
}

// NewBucketWriter creates a new bucket Parquet writer.
func NewBucketWriter(path string, opts Options) (*BucketWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[BucketRow](f,
		parquet.Compression(getCompression(opts.Compression)),
		parquet.PageBufferSize(opts.PageSize),
	)

	return &BucketWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// WriteBuckets writes bucket results to the file.
func (w *BucketWriter) WriteBuckets(buckets []types.BucketResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer closed")
	}

	rows := make([]BucketRow, len(buckets))
	for i := range buckets {
		rows[i] = BucketToRow(&buckets[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// RowCount returns the number of rows written so far.
func (w *BucketWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *BucketWriter) Path() string {
	return w.path
}

// Close finalizes and closes the file.
func (w *BucketWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}
