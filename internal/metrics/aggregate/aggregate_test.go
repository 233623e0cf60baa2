package aggregate

import (
	"math"
	"testing"

	"github.com/pulsemetry/pulse/internal/metrics/types"
)

func TestStreamingBucketBasic(t *testing.T) {
	b := New(1, 0, 60000, false)

	values := []float64{10, 20, 30, 40, 50}
	for i, v := range values {
		b.Add(v, int64(i*1000))
	}

	r := b.Result()

	if r.Count != 5 {
		t.Errorf("Count = %d, want 5", r.Count)
	}
	if r.Sum != 150 {
		t.Errorf("Sum = %f, want 150", r.Sum)
	}
	if r.Min != 10 {
		t.Errorf("Min = %f, want 10", r.Min)
	}
	if r.Max != 50 {
		t.Errorf("Max = %f, want 50", r.Max)
	}
	if r.Avg != 30 {
		t.Errorf("Avg = %f, want 30", r.Avg)
	}
	if r.FirstTs != 0 || r.LastTs != 4000 {
		t.Errorf("FirstTs/LastTs = %d/%d, want 0/4000", r.FirstTs, r.LastTs)
	}
}

func TestStreamingBucketEmpty(t *testing.T) {
	b := New(1, 0, 60000, false)

	if !b.IsEmpty() {
		t.Error("new bucket should be empty")
	}

	r := b.Result()
	if r.Count != 0 {
		t.Errorf("Count = %d, want 0", r.Count)
	}
	if !r.IsEmpty() {
		t.Error("result of empty bucket should be empty")
	}
}

func TestStreamingBucketNegativeValues(t *testing.T) {
	b := New(1, 0, 60000, false)

	b.Add(-5, 100)
	b.Add(3, 200)
	b.Add(-10, 300)

	r := b.Result()
	if r.Min != -10 {
		t.Errorf("Min = %f, want -10", r.Min)
	}
	if r.Max != 3 {
		t.Errorf("Max = %f, want 3", r.Max)
	}
	if r.Sum != -12 {
		t.Errorf("Sum = %f, want -12", r.Sum)
	}
}

func TestStreamingBucketAddPointSkipsInvalid(t *testing.T) {
	b := New(1, 0, 60000, false)

	b.AddPoint(types.Point{Key: 1, TimestampMs: 100, Value: math.NaN()})
	b.AddPoint(types.Point{Key: 1, TimestampMs: 200, Value: math.Inf(1)})
	b.AddPoint(types.Point{Key: 1, TimestampMs: 300, Value: 7})

	if got := b.Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestStreamingBucketPercentiles(t *testing.T) {
	b := New(1, 0, 60000, true)

	for i := 1; i <= 100; i++ {
		b.Add(float64(i), int64(i))
	}

	r := b.Result()
	if !r.HasPercentiles() {
		t.Fatal("expected percentiles")
	}

	// DDSketch is approximate; allow 2% relative error
	checks := []struct {
		name string
		got  *float64
		want float64
	}{
		{"p50", r.P50, 50},
		{"p90", r.P90, 90},
		{"p99", r.P99, 99},
	}
	for _, c := range checks {
		if c.got == nil {
			t.Fatalf("%s is nil", c.name)
		}
		if math.Abs(*c.got-c.want)/c.want > 0.02 {
			t.Errorf("%s = %f, want ~%f", c.name, *c.got, c.want)
		}
	}
}

func TestStreamingBucketReset(t *testing.T) {
	b := New(1, 0, 60000, true)
	b.Add(42, 100)

	b.Reset(60000, 120000)

	if !b.IsEmpty() {
		t.Error("bucket should be empty after reset")
	}
	if b.BucketStart() != 60000 || b.BucketEnd() != 120000 {
		t.Errorf("window = [%d, %d), want [60000, 120000)", b.BucketStart(), b.BucketEnd())
	}

	b.Add(7, 61000)
	r := b.Result()
	if r.Count != 1 || r.Sum != 7 {
		t.Errorf("after reset Count/Sum = %d/%f, want 1/7", r.Count, r.Sum)
	}
}

func TestStreamingBucketMerge(t *testing.T) {
	a := New(1, 0, 60000, false)
	b := New(1, 0, 60000, false)

	a.Add(10, 100)
	a.Add(20, 200)
	b.Add(5, 300)
	b.Add(40, 400)

	a.Merge(b)

	r := a.Result()
	if r.Count != 4 {
		t.Errorf("Count = %d, want 4", r.Count)
	}
	if r.Sum != 75 {
		t.Errorf("Sum = %f, want 75", r.Sum)
	}
	if r.Min != 5 || r.Max != 40 {
		t.Errorf("Min/Max = %f/%f, want 5/40", r.Min, r.Max)
	}
}

func TestStreamingBucketResultIsSnapshot(t *testing.T) {
	b := New(1, 0, 60000, false)
	b.Add(1, 100)

	r1 := b.Result()
	b.Add(2, 200)
	r2 := b.Result()

	if r1.Count != 1 {
		t.Errorf("earlier snapshot mutated: Count = %d, want 1", r1.Count)
	}
	if r2.Count != 2 {
		t.Errorf("Count = %d, want 2", r2.Count)
	}
}
