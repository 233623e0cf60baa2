package buffer

import (
	"testing"

	"github.com/pulsemetry/pulse/internal/metrics/types"
	pulsetest "github.com/pulsemetry/pulse/internal/testing"
)

func pt(key, tsMs int64, value float64) types.Point {
	return types.Point{Key: key, TimestampMs: tsMs, Value: value}
}

func TestPushPop(t *testing.T) {
	rb := New(4)

	if !rb.IsEmpty() {
		t.Error("new buffer should be empty")
	}

	for i := int64(0); i < 3; i++ {
		if !rb.Push(pt(1, i, float64(i))) {
			t.Fatalf("Push %d failed", i)
		}
	}

	if rb.Len() != 3 {
		t.Errorf("Len = %d, want 3", rb.Len())
	}

	p, ok := rb.Pop()
	if !ok {
		t.Fatal("Pop failed")
	}
	if p.TimestampMs != 0 {
		t.Errorf("Pop returned ts %d, want 0 (FIFO)", p.TimestampMs)
	}
}

func TestPushFullRejects(t *testing.T) {
	rb := New(2)

	rb.Push(pt(1, 1, 1))
	rb.Push(pt(1, 2, 2))

	if rb.Push(pt(1, 3, 3)) {
		t.Error("Push on full buffer should return false")
	}
	if !rb.IsFull() {
		t.Error("buffer should report full")
	}

	stats := rb.Stats()
	if stats.DropCount != 1 {
		t.Errorf("DropCount = %d, want 1", stats.DropCount)
	}
}

func TestPushOverwrite(t *testing.T) {
	rb := New(2)

	rb.PushOverwrite(pt(1, 1, 1))
	rb.PushOverwrite(pt(1, 2, 2))
	rb.PushOverwrite(pt(1, 3, 3))

	if rb.Len() != 2 {
		t.Errorf("Len = %d, want 2", rb.Len())
	}

	// Oldest entry was displaced
	p, _ := rb.Pop()
	if p.TimestampMs != 2 {
		t.Errorf("oldest ts = %d, want 2", p.TimestampMs)
	}
}

func TestQueryFilters(t *testing.T) {
	rb := New(16)

	rb.Push(pt(1, 100, 1))
	rb.Push(pt(2, 200, 2))
	rb.Push(pt(1, 300, 3))
	rb.Push(pt(1, 400, 4))

	tests := []struct {
		name   string
		filter PointFilter
		limit  int
		want   int
	}{
		{"all", PointFilter{}, 0, 4},
		{"by_key", PointFilter{Key: 1, HasKey: true}, 0, 3},
		{"since", PointFilter{Since: 300}, 0, 2},
		{"until", PointFilter{Until: 300}, 0, 3},
		{"window", PointFilter{Key: 1, HasKey: true, Since: 200, Until: 400}, 0, 2},
		{"limited", PointFilter{Key: 1, HasKey: true}, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rb.Query(tt.filter, tt.limit)
			if len(got) != tt.want {
				t.Errorf("Query(%+v) returned %d points, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestEvictOlderThan(t *testing.T) {
	rb := New(16)

	for i := int64(1); i <= 10; i++ {
		rb.Push(pt(1, i*100, float64(i)))
	}

	evicted := rb.EvictOlderThan(500)
	if evicted != 4 {
		t.Errorf("evicted = %d, want 4", evicted)
	}
	if rb.Len() != 6 {
		t.Errorf("Len = %d, want 6", rb.Len())
	}

	// Survivors are all at or after the cutoff
	for _, p := range rb.Query(PointFilter{}, 0) {
		if p.TimestampMs < 500 {
			t.Errorf("point at ts %d survived eviction", p.TimestampMs)
		}
	}
}

func TestClear(t *testing.T) {
	rb := New(4)
	rb.Push(pt(1, 1, 1))
	rb.Push(pt(1, 2, 2))

	rb.Clear()

	if !rb.IsEmpty() {
		t.Error("buffer should be empty after Clear")
	}
	if _, ok := rb.Pop(); ok {
		t.Error("Pop after Clear should fail")
	}
}

func TestConcurrentPushQuery(t *testing.T) {
	rb := New(10000)
	gt := pulsetest.NewGoroutineTest(t)

	gt.Go(func() error {
		for i := int64(0); i < 5000; i++ {
			rb.Push(pt(1, i, 1))
		}
		return nil
	})

	gt.Go(func() error {
		for i := 0; i < 100; i++ {
			rb.Query(PointFilter{Key: 1, HasKey: true}, 100)
			rb.Stats()
		}
		return nil
	})

	gt.Wait()

	if rb.Len() != 5000 {
		t.Errorf("Len = %d, want 5000", rb.Len())
	}
}
