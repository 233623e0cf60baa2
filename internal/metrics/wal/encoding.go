package wal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// Point encoding format (binary, little-endian):
// - Point count (4 bytes)
// Per point:
// - Key (8 bytes)
// - TimestampMs (8 bytes)
// - Value (8 bytes, float64)

const pointSize = 24

// encodePoints encodes a slice of points into a binary format.
func encodePoints(points []types.Point) ([]byte, error) {
	if len(points) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, 4+len(points)*pointSize)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(points)))

	for _, p := range points {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Key))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.TimestampMs))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Value))
	}

	return buf, nil
}

// decodePoints decodes a binary format into a slice of points.
func decodePoints(data []byte) ([]types.Point, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for point count")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if count == 0 {
		return nil, nil
	}

	if len(data) < 4+count*pointSize {
		return nil, fmt.Errorf("data too short: want %d points, have %d bytes", count, len(data)-4)
	}

	points := make([]types.Point, count)
	offset := 4

	for i := 0; i < count; i++ {
		points[i].Key = int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
		points[i].TimestampMs = int64(binary.LittleEndian.Uint64(data[offset+8 : offset+16]))
		points[i].Value = math.Float64frombits(binary.LittleEndian.Uint64(data[offset+16 : offset+24]))
		offset += pointSize
	}

	return points, nil
}
