package testing

import (
	"math/rand"
	"time"

	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// MakePoints generates n points for key spaced interval apart,
// starting at start, with values 1..n.
func MakePoints(key int64, n int, start time.Time, interval time.Duration) []types.Point {
	points := make([]types.Point, n)
	for i := 0; i < n; i++ {
		points[i] = types.Point{
			Key:         key,
			TimestampMs: start.Add(time.Duration(i) * interval).UnixMilli(),
			Value:       float64(i + 1),
		}
	}
	return points
}

// MakeRandomPoints generates n points for key within the window
// [start, start+span) with values in [0, 100).
func MakeRandomPoints(key int64, n int, start time.Time, span time.Duration, rng *rand.Rand) []types.Point {
	points := make([]types.Point, n)
	for i := 0; i < n; i++ {
		offset := time.Duration(rng.Int63n(int64(span)))
		points[i] = types.Point{
			Key:         key,
			TimestampMs: start.Add(offset).UnixMilli(),
			Value:       rng.Float64() * 100,
		}
	}
	return points
}
