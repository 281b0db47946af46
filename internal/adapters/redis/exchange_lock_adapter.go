package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sarayalth/nxapi/internal/domain"
)

// releaseScript deletes the lock only when it still holds our value, so an
// expired-then-reacquired lock is never released by its previous owner.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// ExchangeLockAdapter implements domain.ExchangeLockManager using Redis SETNX.
type ExchangeLockAdapter struct {
	redisClient redis.UniversalClient
	keyPrefix   string
	logger      domain.Logger
}

// NewExchangeLockAdapter creates a new instance of ExchangeLockAdapter.
func NewExchangeLockAdapter(redisClient redis.UniversalClient, keyPrefix string, logger domain.Logger) *ExchangeLockAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewExchangeLockAdapter")
	}
	return &ExchangeLockAdapter{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

// AcquireLock attempts to acquire a lock (SETNX behavior) for the given key with a specific value and TTL.
func (a *ExchangeLockAdapter) AcquireLock(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	acquired, err := a.redisClient.SetNX(ctx, a.keyPrefix+key, value, ttl).Result()
	if err != nil {
		a.logger.Error(ctx, "Redis SETNX failed", "key", key, "error", err.Error())
		return false, fmt.Errorf("redis SETNX for key '%s' failed: %w", key, err)
	}
	a.logger.Debug(ctx, "Redis SETNX result", "key", key, "ttl", ttl.String(), "acquired", acquired)
	return acquired, nil
}

// ReleaseLock releases the lock for key only if it is still held with value.
func (a *ExchangeLockAdapter) ReleaseLock(ctx context.Context, key string, value string) (bool, error) {
	result, err := releaseScript.Run(ctx, a.redisClient, []string{a.keyPrefix + key}, value).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		a.logger.Error(ctx, "Redis release lock script failed", "key", key, "error", err.Error())
		return false, fmt.Errorf("redis EVAL for ReleaseLock on key '%s' failed: %w", key, err)
	}
	released := result == 1
	a.logger.Debug(ctx, "Redis ReleaseLock result", "key", key, "released", released)
	return released, nil
}
