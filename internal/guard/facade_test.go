package guard

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-phiguard/internal/audit"
	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/phi"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

const patientNote = "Patient John Smith, SSN 123-45-6789, reports improvement."

type harness struct {
	facade   *Facade
	logs     *bytes.Buffer
	recorder *metrics.Recorder
	store    *audit.MemoryStore
	registry *resilience.Registry
}

func newHarness(t *testing.T, breaker resilience.BreakerConfig, retry resilience.RetryConfig) *harness {
	t.Helper()
	h := &harness{
		logs:     &bytes.Buffer{},
		recorder: metrics.NewRecorder(64, metrics.WithPrometheus(false)),
		store:    audit.NewMemoryStore(16),
		registry: resilience.NewRegistry(breaker),
	}
	policy := resilience.NewRetryPolicy(retry,
		resilience.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		resilience.WithJitterSource(func() float64 { return 0 }),
	)
	h.facade = New(phi.NewDeidentifier(nil), h.registry, policy,
		Config{Dependency: "llm", DefaultDeadline: 5 * time.Second, MaxInputBytes: 1024},
		WithLogger(utils.NewLoggerTo(h.logs, "debug", true)),
		WithRecorder(h.recorder),
		WithAuditStore(h.store),
	)
	return h
}

func defaultHarness(t *testing.T) *harness {
	return newHarness(t,
		resilience.BreakerConfig{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 1},
		resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, AttemptTimeout: 20 * time.Millisecond},
	)
}

func (h *harness) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(h.logs.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), sc.Text())
		out = append(out, rec)
	}
	return out
}

func completed(t *testing.T, records []map[string]any) map[string]any {
	t.Helper()
	var found []map[string]any
	for _, rec := range records {
		if rec[utils.FieldMessage] == "analysis completed" {
			found = append(found, rec)
		}
	}
	require.Len(t, found, 1, "exactly one terminal record per request")
	return found[0]
}

func TestAnalyzeSuccessSendsOnlyCleanedText(t *testing.T) {
	h := defaultHarness(t)
	var seen string
	res, err := h.facade.Analyze(context.Background(), "corr-ok", patientNote, func(_ context.Context, cleaned string) (models.AnalysisResult, error) {
		seen = cleaned
		return models.AnalysisResult{Content: "stable", Model: "test"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "Patient [NAME], SSN [GOVERNMENT_ID], reports improvement.", seen)
	assert.True(t, res.Success)
	assert.Equal(t, "corr-ok", res.CorrelationID)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, "stable", res.Analysis.Content)
	assert.Nil(t, res.Fallback)
	assert.Equal(t, 2, res.Redactions)
	assert.Equal(t, 1, res.Attempts)

	events, err := h.store.List(context.Background(), "corr-ok")
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "corr-ok", ev.CorrelationID)
	}
	assert.Equal(t, int64(2), h.recorder.Counter("phi.redactions"))
	assert.Equal(t, int64(1), h.recorder.Counter("facade.success"))

	done := completed(t, h.records(t))
	assert.Equal(t, "info", done[utils.FieldLevel])
	assert.NotNil(t, done[utils.FieldDurationMs])
	assert.Nil(t, done[utils.FieldErrorType])
	assert.Equal(t, true, done[utils.FieldMetadata].(map[string]any)["success"])
}

func TestAnalyzeAlwaysTimingOutExhaustsRetries(t *testing.T) {
	h := defaultHarness(t)
	calls := 0
	res, err := h.facade.Analyze(context.Background(), "corr-slow", patientNote, func(ctx context.Context, _ string) (models.AnalysisResult, error) {
		calls++
		<-ctx.Done()
		return models.AnalysisResult{}, ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.False(t, res.Success)
	require.NotNil(t, res.Fallback)
	assert.Equal(t, string(resilience.KindRetriesExhausted), res.Fallback.Category)
	assert.True(t, res.Fallback.Retryable)

	stats := h.registry.Get("llm").Stats()
	assert.Equal(t, 1, stats.ConsecutiveFailures)
	assert.Equal(t, int64(1), stats.TotalFailures)

	var typed *resilience.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "llm", typed.Dependency)
	assert.Equal(t, resilience.CodeRetriesExhausted, typed.Code)

	done := completed(t, h.records(t))
	assert.Equal(t, string(resilience.KindRetriesExhausted), done[utils.FieldErrorType])
	assert.Equal(t, resilience.CodeRetriesExhausted, done[utils.FieldErrorCode])
}

func TestAnalyzeLogsCarryCorrelationAndNoPHI(t *testing.T) {
	h := defaultHarness(t)
	_, err := h.facade.Analyze(context.Background(), "corr-logs", patientNote, func(context.Context, string) (models.AnalysisResult, error) {
		return models.AnalysisResult{}, resilience.Terminal("AUTH", errors.New("key for jane.doe@example.com revoked"))
	})
	require.Error(t, err)

	raw := h.logs.String()
	for _, secret := range []string{"John", "Smith", "123-45-6789", "jane.doe@example.com"} {
		assert.NotContains(t, raw, secret)
	}

	records := h.records(t)
	require.NotEmpty(t, records)
	for _, rec := range records {
		assert.Equal(t, "corr-logs", rec[utils.FieldCorrelationID])
		for _, field := range []string{
			utils.FieldTimestamp, utils.FieldLevel, utils.FieldMessage, utils.FieldComponent,
			utils.FieldDurationMs, utils.FieldErrorType, utils.FieldErrorCode, utils.FieldMetadata,
		} {
			assert.Contains(t, rec, field)
		}
	}

	done := completed(t, records)
	assert.Equal(t, "error", done[utils.FieldLevel])
	assert.Equal(t, string(resilience.KindTerminal), done[utils.FieldErrorType])
	assert.Equal(t, "AUTH", done[utils.FieldErrorCode])
	assert.Contains(t, done[utils.FieldMetadata].(map[string]any)["error"], "[EMAIL]")
}

func TestAnalyzeTerminalErrorIsNotRetried(t *testing.T) {
	h := defaultHarness(t)
	calls := 0
	res, err := h.facade.Analyze(context.Background(), "", patientNote, func(context.Context, string) (models.AnalysisResult, error) {
		calls++
		return models.AnalysisResult{}, resilience.Terminal("INVALID_REQUEST", errors.New("bad prompt"))
	})

	assert.ErrorIs(t, err, resilience.ErrTerminal)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.CorrelationID)
	assert.False(t, res.Fallback.Retryable)
}

func TestAnalyzeRecoversAfterTransientFailure(t *testing.T) {
	h := defaultHarness(t)
	calls := 0
	res, err := h.facade.Analyze(context.Background(), "corr-r", patientNote, func(context.Context, string) (models.AnalysisResult, error) {
		calls++
		if calls == 1 {
			return models.AnalysisResult{}, resilience.Retryable("UNAVAILABLE", errors.New("503"))
		}
		return models.AnalysisResult{Content: "ok"}, nil
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 0, h.registry.Get("llm").Stats().ConsecutiveFailures)
}

func TestAnalyzeOpenBreakerShortCircuits(t *testing.T) {
	h := newHarness(t,
		resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour},
		resilience.RetryConfig{MaxAttempts: 1},
	)
	fail := func(context.Context, string) (models.AnalysisResult, error) {
		return models.AnalysisResult{}, errors.New("connection reset")
	}
	_, err := h.facade.Analyze(context.Background(), "corr-1", patientNote, fail)
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, h.registry.Get("llm").State())

	calls := 0
	res, err := h.facade.Analyze(context.Background(), "corr-2", patientNote, func(context.Context, string) (models.AnalysisResult, error) {
		calls++
		return models.AnalysisResult{Content: "never"}, nil
	})

	assert.ErrorIs(t, err, resilience.ErrBreakerOpen)
	assert.Zero(t, calls)
	assert.Zero(t, res.Attempts)
	require.NotNil(t, res.Fallback)
	assert.Equal(t, string(resilience.KindBreakerOpen), res.Fallback.Category)
	assert.True(t, res.Fallback.Retryable)
	assert.Equal(t, int64(1), h.recorder.Counter("breaker.rejections"))
}

func TestAnalyzeRejectsInvalidInput(t *testing.T) {
	h := defaultHarness(t)
	called := false
	downstream := func(context.Context, string) (models.AnalysisResult, error) {
		called = true
		return models.AnalysisResult{}, nil
	}

	cases := map[string]struct {
		text string
		fn   Downstream
		code string
	}{
		"empty":         {text: "   ", fn: downstream, code: resilience.CodeEmptyInput},
		"too large":     {text: strings.Repeat("a", 2048), fn: downstream, code: resilience.CodeInputTooLarge},
		"no downstream": {text: "hello", fn: nil, code: CodeNoDownstream},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := h.facade.Analyze(context.Background(), "corr-v", tc.text, tc.fn)
			assert.ErrorIs(t, err, resilience.ErrValidation)
			assert.Equal(t, tc.code, resilience.CodeOf(err, ""))
			require.NotNil(t, res.Fallback)
			assert.Equal(t, string(resilience.KindValidation), res.Fallback.Category)
			assert.False(t, res.Fallback.Retryable)
		})
	}
	assert.False(t, called)
	assert.Equal(t, resilience.StateClosed, h.registry.Get("llm").State())
	assert.Zero(t, h.registry.Get("llm").Stats().TotalCalls)
}

func TestAnalyzeHonoursCallerCancellation(t *testing.T) {
	h := defaultHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.facade.Analyze(ctx, "corr-c", patientNote, func(context.Context, string) (models.AnalysisResult, error) {
		return models.AnalysisResult{Content: "late"}, nil
	})
	assert.ErrorIs(t, err, resilience.ErrTimeout)
	assert.Equal(t, resilience.CodeCanceled, resilience.CodeOf(err, ""))
	assert.False(t, res.Fallback.Retryable)
	assert.Zero(t, h.registry.Get("llm").Stats().TotalFailures)
}

func TestForUsesIndependentBreaker(t *testing.T) {
	h := newHarness(t,
		resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour},
		resilience.RetryConfig{MaxAttempts: 1},
	)
	_, err := h.facade.Analyze(context.Background(), "a", patientNote, func(context.Context, string) (models.AnalysisResult, error) {
		return models.AnalysisResult{}, errors.New("down")
	})
	require.Error(t, err)

	search := h.facade.For("search")
	assert.Equal(t, "search", search.Dependency())
	res, err := search.Analyze(context.Background(), "b", patientNote, func(context.Context, string) (models.AnalysisResult, error) {
		return models.AnalysisResult{Content: "ok"}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, resilience.StateOpen, h.registry.Get("llm").State())
	assert.Equal(t, resilience.StateClosed, h.registry.Get("search").State())
}
