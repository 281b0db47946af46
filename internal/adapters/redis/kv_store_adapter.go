package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sarayalth/nxapi/internal/domain"
)

const scanBatchSize = 100

// KVStoreAdapter implements domain.KVStore on Redis. Every key is namespaced
// with an optional prefix so several deployments can share one Redis.
type KVStoreAdapter struct {
	redisClient redis.UniversalClient
	keyPrefix   string
	logger      domain.Logger
}

// NewKVStoreAdapter creates a new instance of KVStoreAdapter.
func NewKVStoreAdapter(redisClient redis.UniversalClient, keyPrefix string, logger domain.Logger) *KVStoreAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewKVStoreAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewKVStoreAdapter")
	}
	return &KVStoreAdapter{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

func (a *KVStoreAdapter) fullKey(key string) string {
	return a.keyPrefix + key
}

// Get returns the raw value stored under key, or domain.ErrNotFound.
func (a *KVStoreAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.redisClient.Get(ctx, a.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		a.logger.Error(ctx, "Failed to get value from Redis", "error", err.Error())
		return nil, fmt.Errorf("redis GET for key '%s' failed: %w", redactKey(key), err)
	}
	return val, nil
}

// Set stores value under key. A zero ttl keeps the key forever.
func (a *KVStoreAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.redisClient.Set(ctx, a.fullKey(key), value, ttl).Err(); err != nil {
		a.logger.Error(ctx, "Failed to set value in Redis", "error", err.Error())
		return fmt.Errorf("redis SET for key '%s' failed: %w", redactKey(key), err)
	}
	a.logger.Debug(ctx, "Stored value in Redis", "key", redactKey(key), "ttl", ttl.String())
	return nil
}

// Delete removes key. Missing keys are ignored.
func (a *KVStoreAdapter) Delete(ctx context.Context, key string) error {
	if err := a.redisClient.Del(ctx, a.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redis DEL for key '%s' failed: %w", redactKey(key), err)
	}
	return nil
}

// Keys lists keys beginning with prefix using SCAN, never KEYS.
func (a *KVStoreAdapter) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	match := escapeGlob(a.fullKey(prefix)) + "*"
	for {
		batch, next, err := a.redisClient.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis SCAN for prefix '%s' failed: %w", prefix, err)
		}
		for _, k := range batch {
			out = append(out, strings.TrimPrefix(k, a.keyPrefix))
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Ping checks Redis connectivity.
func (a *KVStoreAdapter) Ping(ctx context.Context) error {
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING failed: %w", err)
	}
	return nil
}

// redactKey strips the session token out of record keys such as NsoToken.<token>.
func redactKey(key string) string {
	for _, p := range []string{"NsoToken.", "MoonToken."} {
		if strings.HasPrefix(key, p) {
			return p + "<redacted>"
		}
	}
	return key
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}
