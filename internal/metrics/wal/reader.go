package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// Reader reads points from WAL segment files.
type Reader struct {
	path string
	file *os.File

	// Statistics
	stats ReaderStats
}

// ReaderStats holds WAL reader statistics.
type ReaderStats struct {
	RecordsRead    int64
	PointsRead     int64
	BytesRead      int64
	CorruptRecords int64
}

// NewReader creates a new WAL reader for a segment file.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != walMagic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", uint64(walMagic), magic)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != walVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	return &Reader{
		path: path,
		file: f,
	}, nil
}

// ReadAll reads all points from the segment. A corrupt record stops the
// scan; everything read before it is returned.
func (r *Reader) ReadAll() ([]types.Point, error) {
	var allPoints []types.Point

	for {
		points, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Truncated tail or corruption: replay what we have
			r.stats.CorruptRecords++
			break
		}

		allPoints = append(allPoints, points...)
	}

	return allPoints, nil
}

// ReadRecord reads the next record from the segment.
// Returns io.EOF when there are no more records.
func (r *Reader) ReadRecord() ([]types.Point, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	// Sanity check length
	if length > 100*1024*1024 {
		return nil, fmt.Errorf("record too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	actualCRC := crc32.ChecksumIEEE(payload)
	if actualCRC != expectedCRC {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expectedCRC, actualCRC)
	}

	points, err := decodePoints(payload)
	if err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}

	r.stats.RecordsRead++
	r.stats.PointsRead += int64(len(points))
	r.stats.BytesRead += int64(recordHeaderSize + len(payload))

	return points, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// ReadSegment is a convenience function to read all points from a segment file.
func ReadSegment(path string) ([]types.Point, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// ReadDir reads all points from every segment in a directory, in
// sequence order. Used for startup replay.
func ReadDir(dir string) ([]types.Point, error) {
	segments, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}

	var allPoints []types.Point
	for _, seg := range segments {
		points, err := ReadSegment(seg.Path)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", seg.Path, err)
		}
		allPoints = append(allPoints, points...)
	}

	return allPoints, nil
}
