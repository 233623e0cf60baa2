package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulsemetry/pulse/internal/metrics/types"
)

func testPoints(key int64, n int) []types.Point {
	base := time.Now().UnixMilli()
	points := make([]types.Point, n)
	for i := range points {
		points[i] = types.Point{Key: key, TimestampMs: base + int64(i), Value: float64(i)}
	}
	return points
}

func TestWriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	want := testPoints(1, 100)
	if err := w.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("read %d points, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMultipleRecords(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := w.Write(testPoints(int64(i), 5)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	w.Close()

	got, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("read %d points, want 50", len(got))
	}
}

func TestEmptyWriteSkipped(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, Options{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Write(nil); err != nil {
		t.Errorf("Write(nil) = %v, want nil", err)
	}
	w.Close()

	stats := w.Stats()
	if stats.RecordsWritten != 0 {
		t.Errorf("RecordsWritten = %d, want 0", stats.RecordsWritten)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()

	// Tiny segment so a couple of writes force a rotation
	w, err := NewWriter(dir, Options{MaxSegmentSize: 256, SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := w.Write(testPoints(1, 10)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	w.Close()

	segments, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) < 2 {
		t.Errorf("len(segments) = %d, want >= 2", len(segments))
	}

	// All data survives across segments
	got, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("read %d points, want 50", len(got))
	}
}

func TestResumeAfterReopen(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testPoints(1, 10))
	first := w.CurrentSegment()
	w.Close()

	// Reopen: a new segment should follow the old one, not clobber it
	w2, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter reopen: %v", err)
	}
	w2.Write(testPoints(2, 10))
	second := w2.CurrentSegment()
	w2.Close()

	if first == second {
		t.Errorf("reopened writer reused segment %s", first)
	}

	got, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("read %d points, want 20", len(got))
	}
}

func TestCorruptTailTolerated(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testPoints(1, 10))
	path := w.CurrentSegment()
	w.Close()

	// Append garbage to simulate a torn write at the tail
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x01})
	f.Close()

	got, err := ReadSegment(path)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("read %d points, want 10 (intact prefix)", len(got))
	}
}

func TestCorruptRecordStopsRead(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testPoints(1, 5))
	w.Write(testPoints(1, 5))
	path := w.CurrentSegment()
	w.Close()

	// Flip a payload byte in the middle of the file; CRC catches it
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	got, err := ReadSegment(path)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(got) >= 10 {
		t.Errorf("read %d points, corrupt record should stop the read", len(got))
	}
}

func TestRemoveSegments(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(testPoints(1, 10))
	w.Rotate()
	w.Write(testPoints(2, 10))
	w.Close()

	// An unrelated file must survive the cleanup
	other := filepath.Join(dir, "keep.txt")
	os.WriteFile(other, []byte("x"), 0644)

	if err := RemoveSegments(dir); err != nil {
		t.Fatalf("RemoveSegments: %v", err)
	}

	segments, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 0 {
		t.Errorf("len(segments) = %d, want 0", len(segments))
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestRemoveSegmentsBeforeSparesActive(t *testing.T) {
	dir := t.TempDir()

	w1, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w1.Write(testPoints(1, 10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A restarted writer opens the next segment in the same directory.
	w2, err := NewWriter(dir, Options{SyncMode: "sync"})
	if err != nil {
		t.Fatalf("NewWriter reopen: %v", err)
	}
	defer w2.Close()

	if err := RemoveSegmentsBefore(dir, w2.CurrentSeq()); err != nil {
		t.Fatalf("RemoveSegmentsBefore: %v", err)
	}

	want := testPoints(2, 5)
	if err := w2.Write(want); err != nil {
		t.Fatalf("Write after removal: %v", err)
	}
	if err := w2.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	segments, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("len(segments) = %d, want 1", len(segments))
	}
	if segments[0].Seq != w2.CurrentSeq() {
		t.Errorf("surviving seq = %d, want %d", segments[0].Seq, w2.CurrentSeq())
	}

	got, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d points after removal, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	want := testPoints(42, 17)

	data, err := encodePoints(want)
	if err != nil {
		t.Fatalf("encodePoints: %v", err)
	}

	got, err := decodePoints(data)
	if err != nil {
		t.Fatalf("decodePoints: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d points, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := encodePoints(testPoints(1, 3))
	if err != nil {
		t.Fatalf("encodePoints: %v", err)
	}

	if _, err := decodePoints(data[:len(data)-4]); err == nil {
		t.Error("decodePoints on truncated data should fail")
	}
}
