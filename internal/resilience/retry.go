package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-phiguard/internal/observability"
)

// Operation is one protected unit of work.
type Operation func(ctx context.Context) (any, error)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	Multiplier          float64
	RateLimitMultiplier float64
	JitterMin           time.Duration
	JitterMax           time.Duration
	// AttemptTimeout caps each invocation; zero leaves attempts bounded only by the caller.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the settings used when configuration omits them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         3,
		BaseDelay:           100 * time.Millisecond,
		MaxDelay:            5 * time.Second,
		Multiplier:          2,
		RateLimitMultiplier: 4,
		JitterMin:           0,
		JitterMax:           100 * time.Millisecond,
		AttemptTimeout:      10 * time.Second,
	}
}

func (c RetryConfig) normalised() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	if c.RateLimitMultiplier < c.Multiplier {
		c.RateLimitMultiplier = c.Multiplier
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	return c
}

// RetryOption customises a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithSleeper replaces the delay implementation. The sleeper must return ctx.Err() when ctx ends first.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(p *RetryPolicy) { p.sleep = sleep }
}

// WithJitterSource replaces the uniform [0,1) source used for jitter.
func WithJitterSource(fn func() float64) RetryOption {
	return func(p *RetryPolicy) { p.random = fn }
}

// RetryPolicy re-attempts retryable failures with exponential backoff and jitter. It holds no
// per-call state and may be shared.
type RetryPolicy struct {
	cfg    RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// NewRetryPolicy builds a policy from cfg.
func NewRetryPolicy(cfg RetryConfig, opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		cfg:    cfg.normalised(),
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig { return p.cfg }

// Delay computes the wait after failed attempt n (1-based).
func (p *RetryPolicy) Delay(attempt int, class Classification) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.cfg.Multiplier
	if class == ClassRateLimited {
		mult = p.cfg.RateLimitMultiplier
	}

	backoff := float64(p.cfg.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.cfg.MaxDelay > 0 && backoff > float64(p.cfg.MaxDelay) {
		backoff = float64(p.cfg.MaxDelay)
	}

	jitter := p.cfg.JitterMin
	if span := p.cfg.JitterMax - p.cfg.JitterMin; span > 0 {
		jitter += time.Duration(p.random() * float64(span))
	}
	return time.Duration(backoff) + jitter
}

// Execute runs fn until it succeeds, fails terminally, exhausts MaxAttempts or the caller's
// deadline can no longer accommodate the next delay. fn is never invoked more than MaxAttempts times.
func (p *RetryPolicy) Execute(ctx context.Context, scope *observability.Scope, fn Operation, classify Classifier) (any, error) {
	if classify == nil {
		classify = DefaultClassifier
	}
	scope = scopeOrDefault(scope).Component("retry")
	span := trace.SpanFromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, p.abort(ctx, scope, err, attempt-1, lastErr)
		}

		started := time.Now()
		result, err := p.invoke(ctx, fn)
		elapsed := time.Since(started)
		scope.Timing("downstream.latency", elapsed)
		scope.Incr("retry.attempts", 1)

		if err == nil {
			span.AddEvent("attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt), attribute.String("classification", "success")))
			scope.Info(ctx, "downstream attempt succeeded", observability.Timed(elapsed, map[string]any{
				"attempt":        attempt,
				"classification": "success",
				"delay_ms":       0,
			}))
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, p.abort(ctx, scope, ctx.Err(), attempt, err)
		}

		class := classify(err)
		errType := KindRetryable
		if class == ClassTerminal {
			errType = KindTerminal
		}
		var delay time.Duration
		if class != ClassTerminal && attempt < p.cfg.MaxAttempts {
			delay = p.Delay(attempt, class)
		}
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("classification", class.String()),
			attribute.Int64("delay_ms", delay.Milliseconds())))
		scope.Warn(ctx, "downstream attempt failed", observability.Event{
			Duration:  &elapsed,
			ErrorType: string(errType),
			ErrorCode: CodeOf(err, ""),
			Metadata: map[string]any{
				"attempt":        attempt,
				"max_attempts":   p.cfg.MaxAttempts,
				"classification": class.String(),
				"delay_ms":       delay.Milliseconds(),
			},
		})

		if class == ClassTerminal {
			return nil, &Error{Kind: KindTerminal, Code: CodeOf(err, CodeTerminal), Attempts: attempt, Err: err}
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			scope.Warn(ctx, "retry delay exceeds caller deadline", observability.Event{
				ErrorType: string(KindTimeout),
				ErrorCode: CodeDeadline,
				Metadata:  map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()},
			})
			return nil, &Error{Kind: KindTimeout, Code: CodeDeadline, Attempts: attempt, Err: err}
		}
		if err := p.sleep(ctx, delay); err != nil {
			return nil, p.abort(ctx, scope, err, attempt, lastErr)
		}
	}

	scope.Incr("retry.exhausted", 1)
	return nil, &Error{
		Kind:     KindRetriesExhausted,
		Code:     CodeRetriesExhausted,
		Attempts: p.cfg.MaxAttempts,
		Err:      lastErr,
	}
}

func (p *RetryPolicy) invoke(ctx context.Context, fn Operation) (any, error) {
	if p.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()
	result, err := fn(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, Retryable(CodeTimeout, err)
	}
	return result, err
}

// abort converts caller cancellation or deadline expiry into a typed error.
func (p *RetryPolicy) abort(ctx context.Context, scope *observability.Scope, cause error, attempts int, last error) error {
	code := CodeDeadline
	if errors.Is(cause, context.Canceled) {
		code = CodeCanceled
	}
	scope.Warn(ctx, "retry loop aborted by caller context", observability.Event{
		ErrorType: string(KindTimeout),
		ErrorCode: code,
		Metadata:  map[string]any{"attempts": attempts},
	})
	wrapped := cause
	if last != nil {
		wrapped = errors.Join(cause, last)
	}
	return &Error{Kind: KindTimeout, Code: code, Attempts: attempts, Err: wrapped}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func scopeOrDefault(scope *observability.Scope) *observability.Scope {
	if scope == nil {
		return observability.NewScope(nil, nil, nil, "resilience")
	}
	return scope
}
