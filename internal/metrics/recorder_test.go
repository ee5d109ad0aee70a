package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounterAndGauge(t *testing.T) {
	rec := NewRecorder(16, WithPrometheus(false))

	rec.Incr("analyze.requests", 1, Tags{"correlation_id": "a"})
	rec.Incr("analyze.requests", 2, Tags{"correlation_id": "b"})
	rec.Gauge("breaker.state", 2, Tags{TagDependency: "llm"})
	rec.Gauge("breaker.state", 0, Tags{TagDependency: "llm", "correlation_id": "c"})
	rec.Gauge("breaker.state", 1, Tags{TagDependency: "search"})

	assert.Equal(t, int64(3), rec.Counter("analyze.requests"))
	v, ok := rec.GaugeValue(`breaker.state{dependency="llm"}`)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	v, ok = rec.GaugeValue(SeriesName("breaker.state", Tags{TagDependency: "search"}))
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	_, ok = rec.GaugeValue("breaker.state")
	assert.False(t, ok)

	_, ok = rec.GaugeValue("missing")
	assert.False(t, ok)
	assert.Equal(t, int64(0), rec.Counter("missing"))
}

func TestRecorderTimerSnapshot(t *testing.T) {
	rec := NewRecorder(100, WithPrometheus(false))
	for i := 1; i <= 100; i++ {
		rec.Timing("downstream.latency", time.Duration(i)*time.Millisecond, nil)
	}

	snap := rec.Snapshot()
	stats, ok := snap.Timers["downstream.latency"]
	require.True(t, ok)
	assert.Equal(t, int64(100), stats.Count)
	assert.Equal(t, 1.0, stats.MinMs)
	assert.Equal(t, 100.0, stats.MaxMs)
	assert.InDelta(t, 50.5, stats.AverageMs, 0.001)
	assert.Equal(t, 95.0, stats.P95Ms)
	assert.Equal(t, 99.0, stats.P99Ms)
	assert.Equal(t, []string{"downstream.latency"}, snap.Names())
}

func TestRecorderObserverSeesTags(t *testing.T) {
	var seen []Sample
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := NewRecorder(8,
		WithPrometheus(false),
		WithClock(func() time.Time { return fixed }),
		WithObserver(func(s Sample) { seen = append(seen, s) }),
	)

	rec.Incr("phi.redactions", 2, Tags{"correlation_id": "corr-9"})

	require.Len(t, seen, 1)
	assert.Equal(t, KindCounter, seen[0].Kind)
	assert.Equal(t, "corr-9", seen[0].Tags["correlation_id"])
	assert.Equal(t, fixed, seen[0].Timestamp)
}

func TestRecorderConcurrentCounts(t *testing.T) {
	rec := NewRecorder(8, WithPrometheus(false))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rec.Incr("hits", 1, nil)
				rec.Timing("lat", time.Millisecond, nil)
			}
		}()
	}
	wg.Wait()

	snap := rec.Snapshot()
	assert.Equal(t, int64(5000), snap.Counters["hits"])
	assert.Equal(t, int64(5000), snap.Timers["lat"].Count)
}

func TestRecorderMirrorsIntoPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	rec := NewRecorder(8)
	rec.Incr("mirror.check", 1, nil)
	rec.Gauge("breaker.state", 1, Tags{TagDependency: "llm", "correlation_id": "corr-m"})
	ObserveAnalysis(10*time.Millisecond, OutcomeFallback, "breaker_open")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	var breakerLabels map[string]string
	for _, mf := range families {
		names[mf.GetName()] = true
		if mf.GetName() != "phiguard_gauge" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["metric"] == "breaker.state" {
				breakerLabels = labels
			}
		}
	}
	assert.True(t, names["phiguard_events_total"])
	assert.True(t, names["phiguard_analyses_total"])
	assert.Equal(t, map[string]string{"metric": "breaker.state", "dependency": "llm"}, breakerLabels)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	rec.Incr("x", 1, nil)
	rec.Gauge("x", 1, nil)
	rec.Timing("x", time.Second, nil)
}
