package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}

	p95 := tracker.Percentile(95)
	if p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	if tracker.Total() != 10 {
		t.Fatalf("expected total 10, got %d", tracker.Total())
	}
}

func TestLatencyTrackerStats(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	stats := tracker.Stats()
	if stats.Count != 100 {
		t.Fatalf("expected count 100, got %d", stats.Count)
	}
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Fatalf("unexpected min/max: %v/%v", stats.Min, stats.Max)
	}
	if stats.Average != 50500*time.Microsecond {
		t.Fatalf("unexpected average: %v", stats.Average)
	}
	if stats.P95 != 95*time.Millisecond {
		t.Fatalf("unexpected p95: %v", stats.P95)
	}
	if stats.P99 != 99*time.Millisecond {
		t.Fatalf("unexpected p99: %v", stats.P99)
	}
}

func TestLatencyTrackerEmptyStats(t *testing.T) {
	stats := NewLatencyTracker(0).Stats()
	if stats != (LatencyStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}
