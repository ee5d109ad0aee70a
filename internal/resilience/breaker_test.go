package resilience

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-phiguard/internal/correlation"
	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/observability"
	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errDown = errors.New("dependency down")

func failing(calls *int) Operation {
	return func(context.Context) (any, error) {
		*calls++
		return nil, errDown
	}
}

func succeeding(calls *int) Operation {
	return func(context.Context) (any, error) {
		*calls++
		return "ok", nil
	}
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, RecoveryTimeout: 10 * time.Second, SuccessThreshold: 2, HalfOpenMaxProbes: 1}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		_, err := b.Call(ctx, nil, failing(&calls))
		assert.ErrorIs(t, err, errDown)
	}
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Call(ctx, nil, failing(&calls))
	assert.Equal(t, 3, calls, "open breaker must not invoke fn")
	assert.ErrorIs(t, err, ErrBreakerOpen)
	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "llm", typed.Dependency)
	assert.Equal(t, int64(1), b.Stats().TotalRejections)
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("llm", testBreakerConfig())
	ctx := context.Background()
	calls := 0

	b.Call(ctx, nil, failing(&calls))
	b.Call(ctx, nil, failing(&calls))
	b.Call(ctx, nil, succeeding(&calls))
	b.Call(ctx, nil, failing(&calls))
	b.Call(ctx, nil, failing(&calls))

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Stats().ConsecutiveFailures)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		b.Call(ctx, nil, failing(&calls))
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(9 * time.Second)
	_, err := b.Call(ctx, nil, succeeding(&calls))
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 3, calls)

	clock.Advance(time.Second)
	_, err = b.Call(ctx, nil, succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Call(ctx, nil, succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().ConsecutiveFailures)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		b.Call(ctx, nil, failing(&calls))
	}
	clock.Advance(10 * time.Second)

	_, err := b.Call(ctx, nil, failing(&calls))
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, StateOpen, b.State())

	// The recovery timeout restarts from the probe failure.
	clock.Advance(5 * time.Second)
	_, err = b.Call(ctx, nil, succeeding(&calls))
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 4, calls)
}

func TestBreakerLimitsConcurrentProbes(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm", testBreakerConfig(), WithClock(clock.Now))
	ctx := context.Background()
	calls := 0
	for i := 0; i < 3; i++ {
		b.Call(ctx, nil, failing(&calls))
	}
	clock.Advance(10 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, nil, func(context.Context) (any, error) {
			close(entered)
			<-release
			return "ok", nil
		})
		done <- err
	}()
	<-entered

	probeCalls := 0
	_, err := b.Call(ctx, nil, succeeding(&probeCalls))
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Zero(t, probeCalls)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerIgnoresValidationAndCancellation(t *testing.T) {
	b := NewBreaker("llm", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	b.Call(ctx, nil, func(context.Context) (any, error) {
		return nil, NewValidationError(CodeEmptyInput, "empty")
	})
	b.Call(ctx, nil, func(context.Context) (any, error) {
		return nil, context.Canceled
	})
	assert.Equal(t, StateClosed, b.State())

	b.Call(ctx, nil, func(context.Context) (any, error) {
		return nil, Terminal("AUTH", errors.New("401"))
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCountsConcurrentFailuresExactly(t *testing.T) {
	b := NewBreaker("llm", BreakerConfig{FailureThreshold: 1000, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Call(ctx, nil, func(context.Context) (any, error) { return nil, errDown })
		}()
	}
	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, 100, stats.ConsecutiveFailures)
	assert.Equal(t, int64(100), stats.TotalCalls)
	assert.Equal(t, int64(100), stats.TotalFailures)
	require.NotNil(t, stats.LastFailure)
}

func TestBreakerLogsTransitionsWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	rec := metrics.NewRecorder(8, metrics.WithPrometheus(false))
	scope := observability.NewScope(utils.NewLoggerTo(&buf, "info", true), rec, correlation.New("corr-b"), "facade")
	b := NewBreaker("llm", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	b.Call(context.Background(), scope, func(context.Context) (any, error) { return nil, errDown })
	b.Call(context.Background(), scope, func(context.Context) (any, error) { return "unreachable", nil })

	var messages []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &record))
		assert.Equal(t, "corr-b", record[utils.FieldCorrelationID])
		assert.Equal(t, "breaker", record[utils.FieldComponent])
		assert.Equal(t, "llm", record[utils.FieldMetadata].(map[string]any)["dependency"])
		messages = append(messages, record[utils.FieldMessage].(string))
	}
	assert.Equal(t, []string{"circuit state changed", "call rejected by open circuit"}, messages)

	gauge, ok := rec.GaugeValue(metrics.SeriesName("breaker.state", metrics.Tags{metrics.TagDependency: "llm"}))
	require.True(t, ok)
	assert.Equal(t, float64(StateOpen), gauge)
	assert.Equal(t, int64(1), rec.Counter("breaker.rejections"))
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker("llm", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	b.Call(context.Background(), nil, func(context.Context) (any, error) { return nil, errDown })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	stats := b.Stats()
	assert.Equal(t, "closed", stats.State)
	assert.Zero(t, stats.ConsecutiveFailures)
	assert.Nil(t, stats.LastFailure)
}

func TestRegistryKeepsDependenciesIndependent(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	ctx := context.Background()

	r.Get("llm").Call(ctx, nil, func(context.Context) (any, error) { return nil, errDown })

	calls := 0
	_, err := r.Get("search").Call(ctx, nil, succeeding(&calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Same(t, r.Get("llm"), r.Get("llm"))

	assert.Equal(t, map[string]State{"llm": StateOpen, "search": StateClosed}, r.States())
	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "llm", stats[0].Name)

	r.Reset()
	assert.Equal(t, StateClosed, r.Get("llm").State())
}
