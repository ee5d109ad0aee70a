package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-phiguard/internal/models"
)

func sampleEvents(id string) []models.RedactionEvent {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return []models.RedactionEvent{
		{CorrelationID: id, Category: models.CategoryName, Start: 8, End: 18, Confidence: 0.85, RuleID: "name_titled", Replacement: "[NAME]", Timestamp: ts},
		{CorrelationID: id, Category: models.CategoryGovernmentID, Start: 24, End: 35, Confidence: 0.95, RuleID: "ssn", Replacement: "[GOVERNMENT_ID]", Timestamp: ts},
	}
}

func TestMemoryStoreAppendList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	require.NoError(t, store.Append(ctx, "a", sampleEvents("a")[:1]))
	require.NoError(t, store.Append(ctx, "a", sampleEvents("a")[1:]))
	require.NoError(t, store.Append(ctx, "b", nil))

	got, err := store.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, sampleEvents("a"), got)

	got[0].RuleID = "mutated"
	again, _ := store.List(ctx, "a")
	assert.Equal(t, "name_titled", again[0].RuleID)

	empty, err := store.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("corr-%d", i)
		require.NoError(t, store.Append(ctx, id, sampleEvents(id)))
	}

	assert.Equal(t, 2, store.Len())
	first, _ := store.List(ctx, "corr-0")
	assert.Empty(t, first)
	last, _ := store.List(ctx, "corr-2")
	assert.Len(t, last, 2)
}

type fakeListClient struct {
	lists   map[string][]string
	expires map[string]time.Duration
	failing error
	closed  bool
}

func newFakeListClient() *fakeListClient {
	return &fakeListClient{lists: map[string][]string{}, expires: map[string]time.Duration{}}
}

func (f *fakeListClient) RPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.failing != nil {
		return redis.NewIntResult(0, f.failing)
	}
	for _, v := range values {
		f.lists[key] = append(f.lists[key], string(v.([]byte)))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeListClient) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.expires[key] = d
	return redis.NewBoolResult(true, nil)
}

func (f *fakeListClient) LRange(_ context.Context, key string, _, _ int64) *redis.StringSliceCmd {
	if f.failing != nil {
		return redis.NewStringSliceResult(nil, f.failing)
	}
	return redis.NewStringSliceResult(f.lists[key], nil)
}

func (f *fakeListClient) Close() error {
	f.closed = true
	return nil
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeListClient()
	store := newRedisStore(client, time.Hour)

	require.NoError(t, store.Append(ctx, "corr-9", sampleEvents("corr-9")))
	assert.Len(t, client.lists["phiguard:audit:corr-9"], 2)
	assert.Equal(t, time.Hour, client.expires["phiguard:audit:corr-9"])

	got, err := store.List(ctx, "corr-9")
	require.NoError(t, err)
	assert.Equal(t, sampleEvents("corr-9"), got)

	for _, raw := range client.lists["phiguard:audit:corr-9"] {
		assert.NotContains(t, raw, "John")
	}

	require.NoError(t, store.Close())
	assert.True(t, client.closed)
}

func TestRedisStorePropagatesErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeListClient()
	client.failing = errors.New("connection refused")
	store := newRedisStore(client, 0)

	assert.Error(t, store.Append(ctx, "x", sampleEvents("x")))
	_, err := store.List(ctx, "x")
	assert.Error(t, err)
}

func TestRedisStoreRejectsCorruptEntries(t *testing.T) {
	client := newFakeListClient()
	client.lists["phiguard:audit:x"] = []string{"{not json"}
	_, err := newRedisStore(client, 0).List(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewRedisStoreRequiresURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	assert.Error(t, err)
	_, err = NewRedisStore(context.Background(), RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}
