package domain

import (
	"context"
	"time"
)

// KVStore is the durable key-value store the credential cache writes through to.
// Values are opaque bytes (JSON encoded by the caller).
type KVStore interface {
	// Get returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means the key does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists stored keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// ExchangeLockManager serializes full exchanges for one cache key across processes.
type ExchangeLockManager interface {
	// AcquireLock attempts to acquire a lock for the given key with a specific value and TTL.
	// It returns true if the lock was acquired, false if it is already held.
	AcquireLock(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// ReleaseLock releases the lock only if it is still held with value.
	// Returns true if the lock was released by this call.
	ReleaseLock(ctx context.Context, key string, value string) (bool, error)
}
