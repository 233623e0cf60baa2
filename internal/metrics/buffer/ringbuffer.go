package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/pulsemetry/pulse/internal/metrics/types"
)

// RingBuffer is a thread-safe circular buffer of raw points. It holds
// the hot window of recently ingested data so queries can see points
// whose bucket has not been completed and flushed yet.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.Point
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.Point, capacity),
		capacity: int64(capacity),
	}
}

// Push adds a point to the buffer.
// Returns false if the buffer is full and the point was dropped.
func (rb *RingBuffer) Push(p types.Point) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.dropCount.Add(1)
		return false
	}

	idx := rb.head % rb.capacity
	rb.data[idx] = p
	rb.head++
	rb.count++
	rb.pushCount.Add(1)

	return true
}

// PushOverwrite adds a point to the buffer, overwriting oldest if full.
func (rb *RingBuffer) PushOverwrite(p types.Point) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
	}

	idx := rb.head % rb.capacity
	rb.data[idx] = p
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// Pop removes and returns the oldest point.
// Returns false if the buffer is empty.
func (rb *RingBuffer) Pop() (types.Point, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return types.Point{}, false
	}

	idx := rb.tail % rb.capacity
	p := rb.data[idx]
	rb.data[idx] = types.Point{}
	rb.tail++
	rb.count--
	rb.popCount.Add(1)

	return p, true
}

// Len returns the current number of points in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return int(rb.capacity)
}

// IsEmpty returns true if the buffer is empty.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == 0
}

// IsFull returns true if the buffer is full.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count >= rb.capacity
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (rb *RingBuffer) UsageRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.count) / float64(rb.capacity)
}

// Clear removes all points from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := range rb.data {
		rb.data[i] = types.Point{}
	}

	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// PointFilter defines criteria for filtering points.
type PointFilter struct {
	// Key filters by metric key; HasKey must be set for 0 to match.
	Key    int64
	HasKey bool

	Since int64 // Unix milliseconds, 0 = no filter
	Until int64 // Unix milliseconds, 0 = no filter
}

// Matches returns true if the point matches the filter.
func (f *PointFilter) Matches(p *types.Point) bool {
	if f.HasKey && p.Key != f.Key {
		return false
	}
	if f.Since > 0 && p.TimestampMs < f.Since {
		return false
	}
	if f.Until > 0 && p.TimestampMs > f.Until {
		return false
	}
	return true
}

// Query returns points matching the filter.
// Results are ordered from oldest to newest.
func (rb *RingBuffer) Query(filter PointFilter, limit int) []types.Point {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	var results []types.Point
	maxResults := limit
	if maxResults <= 0 {
		maxResults = int(rb.count)
	}

	for i := int64(0); i < rb.count && len(results) < maxResults; i++ {
		idx := (rb.tail + i) % rb.capacity
		p := &rb.data[idx]
		if filter.Matches(p) {
			results = append(results, *p)
		}
	}

	return results
}

// QueryKey returns points for a specific metric key within a time range.
func (rb *RingBuffer) QueryKey(key, sinceMs, untilMs int64, limit int) []types.Point {
	return rb.Query(PointFilter{Key: key, HasKey: true, Since: sinceMs, Until: untilMs}, limit)
}

// EvictOlderThan removes points older than the given timestamp.
// Returns the number of points evicted.
func (rb *RingBuffer) EvictOlderThan(cutoffMs int64) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := 0
	for rb.count > 0 {
		idx := rb.tail % rb.capacity
		if rb.data[idx].TimestampMs >= cutoffMs {
			break
		}
		rb.data[idx] = types.Point{}
		rb.tail++
		rb.count--
		evicted++
	}

	return evicted
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		PopCount:   rb.popCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
