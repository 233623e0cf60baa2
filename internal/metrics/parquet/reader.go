package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// BucketReader reads completed buckets from a Parquet file.
type BucketReader struct {
	file   *os.File
	reader *parquet.GenericReader[BucketRow]
	path   string
}

// NewBucketReader creates a new bucket Parquet reader.
func NewBucketReader(path string) (*BucketReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	reader := parquet.NewGenericReader[BucketRow](pf)

	return &BucketReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// Read reads up to n buckets from the file.
func (r *BucketReader) Read(n int) ([]types.BucketResult, error) {
	rows := make([]BucketRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}

	buckets := make([]types.BucketResult, count)
	for i := 0; i < count; i++ {
		buckets[i] = RowToBucket(&rows[i])
	}

	return buckets, nil
}

// ReadAll reads all buckets from the file.
func (r *BucketReader) ReadAll() ([]types.BucketResult, error) {
	numRows := r.reader.NumRows()
	if numRows == 0 {
		return nil, nil
	}

	rows := make([]BucketRow, numRows)
	n, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, err
	}

	buckets := make([]types.BucketResult, n)
	for i := 0; i < n; i++ {
		buckets[i] = RowToBucket(&rows[i])
	}

	return buckets, nil
}

// NumRows returns the total number of rows in the file.
func (r *BucketReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *BucketReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *BucketReader) Path() string {
	return r.path
}

// ReadFile is a convenience function to read all buckets from a file.
func ReadFile(path string) ([]types.BucketResult, error) {
	r, err := NewBucketReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}
