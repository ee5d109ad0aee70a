package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/miradorstack/mirador-phiguard/internal/observability"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures one breaker.
type BreakerConfig struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	SuccessThreshold  int
	HalfOpenMaxProbes int
}

// DefaultBreakerConfig returns the settings used when configuration omits them.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		SuccessThreshold:  2,
		HalfOpenMaxProbes: 1,
	}
}

func (c BreakerConfig) normalised() BreakerConfig {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 1
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 1
	}
	if c.HalfOpenMaxProbes < 1 {
		c.HalfOpenMaxProbes = 1
	}
	return c
}

// BreakerStats is a point-in-time view of a breaker for health reporting.
type BreakerStats struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	HalfOpenSuccesses   int        `json:"half_open_successes"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	LastStateChange     time.Time  `json:"last_state_change"`
	TotalCalls          int64      `json:"total_calls"`
	TotalFailures       int64      `json:"total_failures"`
	TotalRejections     int64      `json:"total_rejections"`
}

// BreakerOption customises a Breaker.
type BreakerOption func(*Breaker)

// WithClock overrides the breaker's time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// Breaker gates calls to one dependency. Recovery is evaluated lazily on the next call; no
// timers run in the background. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	lastChange  time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{name: name, cfg: cfg.normalised(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	b.lastChange = b.now()
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// State returns the stored state. An Open breaker whose recovery timeout has elapsed still
// reports Open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition records a state change made while holding mu.
type transition struct {
	from, to State
}

// Call invokes fn unless the breaker rejects it. Rejections return an *Error of KindBreakerOpen
// without calling fn.
func (b *Breaker) Call(ctx context.Context, scope *observability.Scope, fn Operation) (any, error) {
	scope = scopeOrDefault(scope).Component("breaker")

	probe, changed, err := b.admit()
	b.report(ctx, scope, changed)
	if err != nil {
		scope.Incr("breaker.rejections", 1)
		scope.Warn(ctx, "call rejected by open circuit", observability.Event{
			ErrorType: string(KindBreakerOpen),
			ErrorCode: CodeBreakerOpen,
			Metadata:  map[string]any{"dependency": b.name, "state": b.State().String()},
		})
		return nil, err
	}

	result, callErr := fn(ctx)

	changed = b.settle(probe, callErr)
	b.report(ctx, scope, changed)

	var typed *Error
	if errors.As(callErr, &typed) && typed.Dependency == "" {
		typed.Dependency = b.name
	}
	return result, callErr
}

func (b *Breaker) admit() (probe bool, changed []transition, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	if b.state == StateOpen && !b.now().Before(b.lastFailure.Add(b.cfg.RecoveryTimeout)) {
		changed = append(changed, b.moveTo(StateHalfOpen))
	}

	switch b.state {
	case StateOpen:
		b.totalRejections++
		return false, changed, &Error{Kind: KindBreakerOpen, Code: CodeBreakerOpen, Dependency: b.name}
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxProbes {
			b.totalRejections++
			return false, changed, &Error{Kind: KindBreakerOpen, Code: CodeBreakerOpen, Dependency: b.name}
		}
		b.probes++
		return true, changed, nil
	default:
		return false, changed, nil
	}
}

func (b *Breaker) settle(probe bool, err error) []transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probes > 0 {
		b.probes--
	}

	if err == nil {
		switch b.state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			if probe {
				b.successes++
				if b.successes >= b.cfg.SuccessThreshold {
					return []transition{b.moveTo(StateClosed)}
				}
			}
		}
		return nil
	}

	if !countsAsFailure(err) {
		return nil
	}

	b.totalFailures++
	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			return []transition{b.moveTo(StateOpen)}
		}
	case StateHalfOpen:
		b.failures++
		return []transition{b.moveTo(StateOpen)}
	case StateOpen:
		b.failures++
	}
	return nil
}

// moveTo must be called with mu held.
func (b *Breaker) moveTo(to State) transition {
	t := transition{from: b.state, to: to}
	b.state = to
	b.lastChange = b.now()
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if to != StateHalfOpen {
		b.probes = 0
	}
	return t
}

func (b *Breaker) report(ctx context.Context, scope *observability.Scope, changed []transition) {
	for _, t := range changed {
		scope.GaugeFor("breaker.state", b.name, float64(t.to))
		scope.Incr("breaker.transitions."+t.to.String(), 1)
		event := observability.Meta(map[string]any{
			"dependency": b.name,
			"from":       t.from.String(),
			"to":         t.to.String(),
		})
		if t.to == StateOpen {
			event.ErrorType = string(KindBreakerOpen)
			event.ErrorCode = CodeBreakerOpen
			scope.Warn(ctx, "circuit state changed", event)
			continue
		}
		scope.Info(ctx, "circuit state changed", event)
	}
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BreakerStats{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		HalfOpenSuccesses:   b.successes,
		LastStateChange:     b.lastChange,
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
		TotalRejections:     b.totalRejections,
	}
	if !b.lastFailure.IsZero() {
		lf := b.lastFailure
		stats.LastFailure = &lf
	}
	return stats
}

// Reset forces the breaker back to Closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.probes = 0
	b.lastFailure = time.Time{}
	b.lastChange = b.now()
}
