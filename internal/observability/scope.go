// Package observability binds a logger, the metrics recorder and a correlation context into
// a request scope so every record and sample carries the same correlation id.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-phiguard/internal/correlation"
	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

// Event carries the optional contract fields of a log record.
type Event struct {
	Duration  *time.Duration
	ErrorType string
	ErrorCode string
	Metadata  map[string]any
}

// Meta is shorthand for an Event carrying only metadata.
func Meta(kv map[string]any) Event {
	return Event{Metadata: kv}
}

// Timed returns an Event with the given duration set.
func Timed(d time.Duration, kv map[string]any) Event {
	return Event{Duration: &d, Metadata: kv}
}

// Scope emits log records and metric samples on behalf of one component within one request.
type Scope struct {
	logger    *slog.Logger
	recorder  *metrics.Recorder
	cc        *correlation.Context
	component string
	started   time.Time
	now       func() time.Time
}

// NewScope opens a scope. A nil logger falls back to slog.Default and a nil context gets a
// fresh correlation id.
func NewScope(logger *slog.Logger, recorder *metrics.Recorder, cc *correlation.Context, component string) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	if cc == nil {
		cc = correlation.New("")
	}
	return &Scope{
		logger:    logger,
		recorder:  recorder,
		cc:        cc,
		component: component,
		started:   time.Now(),
		now:       time.Now,
	}
}

// Component returns a child scope sharing the correlation context under another component name.
func (s *Scope) Component(name string) *Scope {
	child := *s
	child.component = name
	return &child
}

// WithClock overrides the scope's time source.
func (s *Scope) WithClock(now func() time.Time) *Scope {
	child := *s
	child.now = now
	child.started = now()
	return &child
}

// Correlation returns the bound correlation context.
func (s *Scope) Correlation() *correlation.Context { return s.cc }

// CorrelationID returns the bound correlation id.
func (s *Scope) CorrelationID() string { return s.cc.ID() }

// Recorder returns the metrics recorder, which may be nil.
func (s *Scope) Recorder() *metrics.Recorder { return s.recorder }

// Elapsed reports the time since the scope was opened.
func (s *Scope) Elapsed() time.Duration { return s.now().Sub(s.started) }

func (s *Scope) Debug(ctx context.Context, msg string, ev Event) {
	s.Log(ctx, slog.LevelDebug, msg, ev)
}

func (s *Scope) Info(ctx context.Context, msg string, ev Event) {
	s.Log(ctx, slog.LevelInfo, msg, ev)
}

func (s *Scope) Warn(ctx context.Context, msg string, ev Event) {
	s.Log(ctx, slog.LevelWarn, msg, ev)
}

func (s *Scope) Error(ctx context.Context, msg string, ev Event) {
	s.Log(ctx, slog.LevelError, msg, ev)
}

// Log writes one record with every contract field present. Absent optional fields are null.
func (s *Scope) Log(ctx context.Context, level slog.Level, msg string, ev Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.logger.Enabled(ctx, level) {
		return
	}

	var duration, errType, errCode any
	if ev.Duration != nil {
		duration = utils.Milliseconds(*ev.Duration)
	}
	if ev.ErrorType != "" {
		errType = ev.ErrorType
	}
	if ev.ErrorCode != "" {
		errCode = ev.ErrorCode
	}

	meta := make(map[string]any, len(ev.Metadata)+len(s.cc.Keys()))
	for _, k := range s.cc.Keys() {
		if k == correlation.TagComponent {
			continue
		}
		v, _ := s.cc.Tag(k)
		meta[k] = v
	}
	for k, v := range ev.Metadata {
		meta[k] = v
	}

	s.logger.LogAttrs(ctx, level, msg,
		slog.String(utils.FieldCorrelationID, s.cc.ID()),
		slog.String(utils.FieldComponent, s.component),
		slog.Any(utils.FieldDurationMs, duration),
		slog.Any(utils.FieldErrorType, errType),
		slog.Any(utils.FieldErrorCode, errCode),
		slog.Any(utils.FieldMetadata, meta),
	)
}

// Incr bumps a counter tagged with the correlation id and component.
func (s *Scope) Incr(name string, delta int64) {
	s.recorder.Incr(name, delta, s.tags())
}

// Gauge sets a gauge tagged with the correlation id and component.
func (s *Scope) Gauge(name string, value float64) {
	s.recorder.Gauge(name, value, s.tags())
}

// GaugeFor sets a gauge that is split per dependency.
func (s *Scope) GaugeFor(name, dependency string, value float64) {
	tags := s.tags()
	tags[metrics.TagDependency] = dependency
	s.recorder.Gauge(name, value, tags)
}

// Timing records a timer sample tagged with the correlation id and component.
func (s *Scope) Timing(name string, d time.Duration) {
	s.recorder.Timing(name, d, s.tags())
}

func (s *Scope) tags() metrics.Tags {
	return metrics.Tags{
		utils.FieldCorrelationID: s.cc.ID(),
		utils.FieldComponent:     s.component,
	}
}
