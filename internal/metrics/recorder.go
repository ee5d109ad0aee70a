package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

// Kind distinguishes how samples of a metric are aggregated.
type Kind string

const (
	KindCounter Kind = "counter"
	KindGauge   Kind = "gauge"
	KindTimer   Kind = "timer"
)

// Tags annotate a sample; the correlation id travels here.
type Tags map[string]string

// TagDependency names the dependency a sample belongs to. It is the only tag that splits a
// metric into separate series, so its values must come from configuration.
const TagDependency = "dependency"

// SeriesName returns the key under which a sample named name with tags is aggregated:
// name itself, or name{dependency="..."} when the dependency tag is set.
func SeriesName(name string, tags Tags) string {
	if dep := tags[TagDependency]; dep != "" {
		return name + `{dependency="` + dep + `"}`
	}
	return name
}

// Sample is a single metric emission before aggregation.
type Sample struct {
	Name      string
	Kind      Kind
	Value     float64
	Tags      Tags
	Timestamp time.Time
}

// TimerStats are the rolling statistics reported for a timer.
type TimerStats struct {
	Count     int64   `json:"count"`
	AverageMs float64 `json:"average_ms"`
	MinMs     float64 `json:"min_ms"`
	MaxMs     float64 `json:"max_ms"`
	P95Ms     float64 `json:"p95_ms"`
	P99Ms     float64 `json:"p99_ms"`
}

// Snapshot is the pull-style view of every aggregated metric.
type Snapshot struct {
	TakenAt  time.Time             `json:"taken_at"`
	Counters map[string]int64      `json:"counters"`
	Gauges   map[string]float64    `json:"gauges"`
	Timers   map[string]TimerStats `json:"timers"`
}

// Names returns every metric name in the snapshot, sorted.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Counters)+len(s.Gauges)+len(s.Timers))
	for n := range s.Counters {
		names = append(names, n)
	}
	for n := range s.Gauges {
		names = append(names, n)
	}
	for n := range s.Timers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPrometheus toggles mirroring of samples into the package Prometheus collectors.
func WithPrometheus(enabled bool) Option {
	return func(r *Recorder) { r.mirror = enabled }
}

// WithObserver registers a hook that sees every sample before aggregation.
func WithObserver(fn func(Sample)) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.observers = append(r.observers, fn)
		}
	}
}

// WithClock overrides the time source used to stamp samples.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// Recorder aggregates samples in memory, keyed by metric name. It is safe for concurrent use.
type Recorder struct {
	mu        sync.RWMutex
	counters  map[string]*atomic.Int64
	gauges    map[string]*atomic.Uint64
	timers    map[string]*utils.LatencyTracker
	window    int
	mirror    bool
	observers []func(Sample)
	now       func() time.Time
}

// NewRecorder builds a recorder whose timers keep up to window samples each.
func NewRecorder(window int, opts ...Option) *Recorder {
	r := &Recorder{
		counters: make(map[string]*atomic.Int64),
		gauges:   make(map[string]*atomic.Uint64),
		timers:   make(map[string]*utils.LatencyTracker),
		window:   window,
		mirror:   true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Incr adds delta to the named counter.
func (r *Recorder) Incr(name string, delta int64, tags Tags) {
	if r == nil {
		return
	}
	r.Record(Sample{Name: name, Kind: KindCounter, Value: float64(delta), Tags: tags})
}

// Gauge sets the named gauge.
func (r *Recorder) Gauge(name string, value float64, tags Tags) {
	if r == nil {
		return
	}
	r.Record(Sample{Name: name, Kind: KindGauge, Value: value, Tags: tags})
}

// Timing adds a duration observation to the named timer.
func (r *Recorder) Timing(name string, d time.Duration, tags Tags) {
	if r == nil {
		return
	}
	r.Record(Sample{Name: name, Kind: KindTimer, Value: float64(d), Tags: tags})
}

// Record aggregates a sample. Timer values are durations in nanoseconds.
func (r *Recorder) Record(s Sample) {
	if r == nil || s.Name == "" {
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = r.now()
	}
	for _, observe := range r.observers {
		observe(s)
	}

	series := SeriesName(s.Name, s.Tags)
	dep := s.Tags[TagDependency]
	switch s.Kind {
	case KindCounter:
		r.counter(series).Add(int64(s.Value))
		if r.mirror {
			counterTotal.WithLabelValues(s.Name, dep).Add(math.Max(s.Value, 0))
		}
	case KindGauge:
		r.gauge(series).Store(math.Float64bits(s.Value))
		if r.mirror {
			gaugeValue.WithLabelValues(s.Name, dep).Set(s.Value)
		}
	case KindTimer:
		d := time.Duration(s.Value)
		r.timer(series).Observe(d)
		if r.mirror {
			timerSeconds.WithLabelValues(s.Name, dep).Observe(d.Seconds())
		}
	}
}

// Counter returns the current value of a counter, zero when unknown.
func (r *Recorder) Counter(name string) int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// GaugeValue returns the current value of a gauge and whether it was ever set.
func (r *Recorder) GaugeValue(name string) (float64, bool) {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return math.Float64frombits(g.Load()), true
}

// Snapshot returns the current aggregate of every metric.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		TakenAt:  r.now().UTC(),
		Counters: make(map[string]int64, len(r.counters)),
		Gauges:   make(map[string]float64, len(r.gauges)),
		Timers:   make(map[string]TimerStats, len(r.timers)),
	}
	for name, c := range r.counters {
		snap.Counters[name] = c.Load()
	}
	for name, g := range r.gauges {
		snap.Gauges[name] = math.Float64frombits(g.Load())
	}
	for name, t := range r.timers {
		stats := t.Stats()
		snap.Timers[name] = TimerStats{
			Count:     stats.Count,
			AverageMs: utils.Milliseconds(stats.Average),
			MinMs:     utils.Milliseconds(stats.Min),
			MaxMs:     utils.Milliseconds(stats.Max),
			P95Ms:     utils.Milliseconds(stats.P95),
			P99Ms:     utils.Milliseconds(stats.P99),
		}
	}
	return snap
}

func (r *Recorder) counter(name string) *atomic.Int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; !ok {
		c = new(atomic.Int64)
		r.counters[name] = c
	}
	return c
}

func (r *Recorder) gauge(name string) *atomic.Uint64 {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.gauges[name]; !ok {
		g = new(atomic.Uint64)
		r.gauges[name] = g
	}
	return g
}

func (r *Recorder) timer(name string) *utils.LatencyTracker {
	r.mu.RLock()
	t, ok := r.timers[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.timers[name]; !ok {
		t = utils.NewLatencyTracker(r.window)
		r.timers[name] = t
	}
	return t
}
