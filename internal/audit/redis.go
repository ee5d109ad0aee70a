package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/utils"
)

const keyPrefix = "phiguard:audit:"

// listClient is the subset of the go-redis client used by RedisStore.
type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Close() error
}

// RedisConfig holds connection parameters for the audit list store.
type RedisConfig struct {
	URL         string
	TTL         time.Duration
	DialTimeout time.Duration
}

// RedisStore writes each correlation id's events to one Redis list with a TTL.
type RedisStore struct {
	client listClient
	ttl    time.Duration
}

// NewRedisStore connects using cfg.URL and pings the server to fail fast.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("audit redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, utils.NewAppError("audit.NewRedisStore", "parse redis url", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, utils.NewAppError("audit.NewRedisStore", "ping redis", err)
	}
	return newRedisStore(client, cfg.TTL), nil
}

func newRedisStore(client listClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Append pushes events as JSON and refreshes the list TTL.
func (s *RedisStore) Append(ctx context.Context, correlationID string, events []models.RedactionEvent) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return utils.NewAppError("audit.Append", "encode event", err)
		}
		values = append(values, payload)
	}

	key := keyPrefix + correlationID
	if err := s.client.RPush(ctx, key, values...).Err(); err != nil {
		return utils.NewAppError("audit.Append", "rpush", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return utils.NewAppError("audit.Append", "expire", err)
		}
	}
	return nil
}

// List reads the whole trail of correlationID.
func (s *RedisStore) List(ctx context.Context, correlationID string) ([]models.RedactionEvent, error) {
	raw, err := s.client.LRange(ctx, keyPrefix+correlationID, 0, -1).Result()
	if err != nil {
		return nil, utils.NewAppError("audit.List", "lrange", err)
	}
	out := make([]models.RedactionEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.RedactionEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, utils.NewAppError("audit.List", "decode event", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }
