// Package guard composes de-identification, the circuit breaker and the retry policy into the
// single entry point used for every outbound analysis call.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-phiguard/internal/audit"
	"github.com/miradorstack/mirador-phiguard/internal/correlation"
	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/observability"
	"github.com/miradorstack/mirador-phiguard/internal/phi"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
)

const (
	tracerName = "github.com/miradorstack/mirador-phiguard/internal/guard"

	// CodeNoDownstream is reported when Analyze is called without a downstream function.
	CodeNoDownstream = "NO_DOWNSTREAM"
)

// Downstream performs the protected analysis on already de-identified text.
type Downstream func(ctx context.Context, cleaned string) (models.AnalysisResult, error)

// Config holds the facade-level limits.
type Config struct {
	Dependency      string
	DefaultDeadline time.Duration
	MaxInputBytes   int
}

// DefaultConfig returns the limits used when configuration omits them.
func DefaultConfig() Config {
	return Config{
		Dependency:      "llm",
		DefaultDeadline: 30 * time.Second,
		MaxInputBytes:   256 << 10,
	}
}

// Option customises a Facade.
type Option func(*Facade)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) { f.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(f *Facade) { f.recorder = rec }
}

// WithAuditStore sets where redaction events are kept. Without one events are only counted.
func WithAuditStore(store audit.Store) Option {
	return func(f *Facade) { f.store = store }
}

// WithClassifier replaces resilience.DefaultClassifier.
func WithClassifier(c resilience.Classifier) Option {
	return func(f *Facade) { f.classify = c }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(f *Facade) { f.tracer = t }
}

// WithClock overrides the time source used for request durations.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// Facade is safe for concurrent use; all per-request state lives in the request's scope.
type Facade struct {
	deid     *phi.Deidentifier
	breakers *resilience.Registry
	retry    *resilience.RetryPolicy
	classify resilience.Classifier
	store    audit.Store
	logger   *slog.Logger
	recorder *metrics.Recorder
	tracer   trace.Tracer
	now      func() time.Time

	dependency      string
	defaultDeadline time.Duration
	maxInputBytes   int
}

// New wires a facade. Nil collaborators fall back to defaults.
func New(deid *phi.Deidentifier, breakers *resilience.Registry, retry *resilience.RetryPolicy, cfg Config, opts ...Option) *Facade {
	defaults := DefaultConfig()
	if cfg.Dependency == "" {
		cfg.Dependency = defaults.Dependency
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaults.MaxInputBytes
	}
	if deid == nil {
		deid = phi.NewDeidentifier(nil)
	}
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig())
	}
	if retry == nil {
		retry = resilience.NewRetryPolicy(resilience.DefaultRetryConfig())
	}

	f := &Facade{
		deid:            deid,
		breakers:        breakers,
		retry:           retry,
		classify:        resilience.DefaultClassifier,
		logger:          slog.Default(),
		tracer:          otel.Tracer(tracerName),
		dependency:      cfg.Dependency,
		defaultDeadline: cfg.DefaultDeadline,
		maxInputBytes:   cfg.MaxInputBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.classify == nil {
		f.classify = resilience.DefaultClassifier
	}
	return f
}

// For returns a facade sharing every collaborator but bound to the breaker of dependency.
func (f *Facade) For(dependency string) *Facade {
	clone := *f
	clone.dependency = dependency
	return &clone
}

// Dependency returns the breaker name this facade protects.
func (f *Facade) Dependency() string { return f.dependency }

// Breakers exposes the registry for health reporting.
func (f *Facade) Breakers() *resilience.Registry { return f.breakers }

// Deidentifier returns the de-identifier used on every request.
func (f *Facade) Deidentifier() *phi.Deidentifier { return f.deid }

// Analyze de-identifies rawText and runs downstream on the cleaned text behind the breaker and
// retry policy. It always returns a StructuredResult; the error is non-nil exactly when the
// result carries a fallback and is then a *resilience.Error.
func (f *Facade) Analyze(ctx context.Context, correlationID, rawText string, downstream Downstream) (models.StructuredResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cc := correlation.New(correlationID)
	cc.SetTag(correlation.TagDependency, f.dependency)

	scope := observability.NewScope(f.logger, f.recorder, cc, "facade")
	if f.now != nil {
		scope = scope.WithClock(f.now)
	}

	ctx, span := f.tracer.Start(ctx, "phiguard.Analyze", trace.WithAttributes(
		attribute.String("correlation_id", cc.ID()),
		attribute.String("dependency", f.dependency),
	))
	defer span.End()

	if _, ok := ctx.Deadline(); !ok && f.defaultDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.defaultDeadline)
		defer cancel()
	}

	result := models.StructuredResult{CorrelationID: cc.ID()}

	cleaned, err := f.prepare(ctx, scope, cc, rawText, downstream, &result)
	var analysis models.AnalysisResult
	if err == nil {
		analysis, err = f.protect(ctx, scope, cleaned, downstream, &result)
	}
	return f.finish(ctx, scope, span, result, analysis, err)
}

func (f *Facade) prepare(ctx context.Context, scope *observability.Scope, cc *correlation.Context, rawText string, downstream Downstream, result *models.StructuredResult) (string, error) {
	switch {
	case strings.TrimSpace(rawText) == "":
		return "", resilience.NewValidationError(resilience.CodeEmptyInput, "input text is empty")
	case len(rawText) > f.maxInputBytes:
		return "", resilience.NewValidationError(resilience.CodeInputTooLarge, "input text exceeds the configured size limit")
	case downstream == nil:
		return "", resilience.NewValidationError(CodeNoDownstream, "no downstream analysis function supplied")
	}

	cleaned, events := f.deid.Deidentify(cc, rawText)
	result.Redactions = len(events)
	scope.Incr("phi.redactions", int64(len(events)))

	byCategory := make(map[string]int, len(events))
	for _, ev := range events {
		byCategory[string(ev.Category)]++
	}
	scope.Component("deidentifier").Debug(ctx, "input de-identified", observability.Meta(map[string]any{
		"redactions":  len(events),
		"categories":  byCategory,
		"input_bytes": len(rawText),
	}))

	if f.store != nil && len(events) > 0 {
		if err := f.store.Append(ctx, cc.ID(), events); err != nil {
			scope.Incr("audit.failures", 1)
			scope.Component("audit").Error(ctx, "failed to append redaction events", observability.Event{
				ErrorType: "audit",
				Metadata:  map[string]any{"error": f.deid.Scrub(err.Error()), "events": len(events)},
			})
		}
	}
	return cleaned, nil
}

func (f *Facade) protect(ctx context.Context, scope *observability.Scope, cleaned string, downstream Downstream, result *models.StructuredResult) (models.AnalysisResult, error) {
	attempt := func(ctx context.Context) (any, error) {
		result.Attempts++
		return downstream(ctx, cleaned)
	}

	out, err := f.breakers.Get(f.dependency).Call(ctx, scope, func(ctx context.Context) (any, error) {
		return f.retry.Execute(ctx, scope, attempt, f.classify)
	})
	if err != nil {
		return models.AnalysisResult{}, err
	}
	analysis, _ := out.(models.AnalysisResult)
	return analysis, nil
}

func (f *Facade) finish(ctx context.Context, scope *observability.Scope, span trace.Span, result models.StructuredResult, analysis models.AnalysisResult, err error) (models.StructuredResult, error) {
	elapsed := scope.Elapsed()
	result.DurationMs = elapsed.Milliseconds()
	scope.Timing("facade.duration", elapsed)
	span.SetAttributes(
		attribute.Int("attempts", result.Attempts),
		attribute.Int("redactions", result.Redactions),
	)

	if err == nil {
		result.Success = true
		result.Analysis = &analysis
		scope.Incr("facade.success", 1)
		metrics.ObserveAnalysis(elapsed, metrics.OutcomeSuccess, "")
		scope.Info(ctx, "analysis completed", observability.Timed(elapsed, map[string]any{
			"success":    true,
			"attempts":   result.Attempts,
			"redactions": result.Redactions,
		}))
		return result, nil
	}

	typed := asResilienceError(err, f.dependency)
	fallback := fallbackFor(typed)
	result.Fallback = &fallback

	scope.Incr("facade.fallback", 1)
	metrics.ObserveAnalysis(elapsed, metrics.OutcomeFallback, fallback.Category)
	span.SetStatus(otelcodes.Error, fallback.Category)

	level := slog.LevelWarn
	if typed.Kind == resilience.KindTerminal {
		level = slog.LevelError
	}
	scope.Log(ctx, level, "analysis completed", observability.Event{
		Duration:  &elapsed,
		ErrorType: string(typed.Kind),
		ErrorCode: typed.Code,
		Metadata: map[string]any{
			"success":    false,
			"attempts":   result.Attempts,
			"redactions": result.Redactions,
			"retryable":  fallback.Retryable,
			"error":      f.deid.Scrub(typed.Error()),
		},
	})
	return result, typed
}

func asResilienceError(err error, dependency string) *resilience.Error {
	var typed *resilience.Error
	if errors.As(err, &typed) {
		return typed
	}
	return &resilience.Error{
		Kind:       resilience.KindTerminal,
		Code:       resilience.CodeOf(err, resilience.CodeTerminal),
		Dependency: dependency,
		Err:        err,
	}
}

// fallbackFor maps an error to a user-safe response. Messages never include error detail.
func fallbackFor(err *resilience.Error) models.FallbackResponse {
	fb := models.FallbackResponse{Category: string(err.Kind)}
	switch err.Kind {
	case resilience.KindValidation:
		fb.Message = "The request was rejected because its input is not acceptable."
	case resilience.KindBreakerOpen:
		fb.Message = "The analysis service is temporarily unavailable. Please try again later."
		fb.Retryable = true
	case resilience.KindRetriesExhausted, resilience.KindRetryable:
		fb.Message = "The analysis service did not respond successfully. Please try again later."
		fb.Retryable = true
	case resilience.KindTimeout:
		fb.Message = "The analysis did not complete in time."
		fb.Retryable = err.Code != resilience.CodeCanceled
	default:
		fb.Message = "The analysis service could not process this request."
	}
	return fb
}
