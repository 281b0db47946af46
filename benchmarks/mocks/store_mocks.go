package mocks

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sarayalth/nxapi/internal/domain"
)

type storeItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MockKVStore implements domain.KVStore using in-memory storage.
type MockKVStore struct {
	items map[string]storeItem
	mu    sync.RWMutex

	// GetErr, when set, is returned by every Get.
	GetErr error
	// SetErr, when set, is returned by every Set.
	SetErr error

	// Metrics
	Gets    int64
	Sets    int64
	Deletes int64
}

// NewMockKVStore creates a new mock KV store
func NewMockKVStore() *MockKVStore {
	return &MockKVStore{items: make(map[string]storeItem)}
}

// Get implements domain.KVStore
func (m *MockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.Gets, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	item, exists := m.items[key]
	if !exists || (!item.expiresAt.IsZero() && time.Now().After(item.expiresAt)) {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(item.value), nil
}

// Set implements domain.KVStore
func (m *MockKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	atomic.AddInt64(&m.Sets, 1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetErr != nil {
		return m.SetErr
	}
	item := storeItem{value: slices.Clone(value)}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	m.items[key] = item
	return nil
}

// Delete implements domain.KVStore
func (m *MockKVStore) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.Deletes, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Keys implements domain.KVStore
func (m *MockKVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Ping implements domain.KVStore
func (m *MockKVStore) Ping(ctx context.Context) error {
	return nil
}

// Put writes a raw value, bypassing SetErr and the metrics.
func (m *MockKVStore) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = storeItem{value: slices.Clone(value)}
}

// Snapshot returns a copy of every stored value.
func (m *MockKVStore) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.items))
	for k, v := range m.items {
		out[k] = slices.Clone(v.value)
	}
	return out
}

// GetMetrics returns the operation counters.
func (m *MockKVStore) GetMetrics() (gets, sets, deletes int64) {
	return atomic.LoadInt64(&m.Gets), atomic.LoadInt64(&m.Sets), atomic.LoadInt64(&m.Deletes)
}

// Reset clears all items and metrics
func (m *MockKVStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]storeItem)
	m.GetErr, m.SetErr = nil, nil
	atomic.StoreInt64(&m.Gets, 0)
	atomic.StoreInt64(&m.Sets, 0)
	atomic.StoreInt64(&m.Deletes, 0)
}

// MockExchangeLockManager implements domain.ExchangeLockManager in memory.
type MockExchangeLockManager struct {
	locks map[string]lockEntry
	mu    sync.Mutex

	LockAttempts     int64
	LockSuccesses    int64
	LockFailures     int64
	ReleaseSuccesses int64
}

type lockEntry struct {
	value     string
	expiresAt time.Time
}

// NewMockExchangeLockManager creates a new mock exchange lock manager
func NewMockExchangeLockManager() *MockExchangeLockManager {
	return &MockExchangeLockManager{locks: make(map[string]lockEntry)}
}

// AcquireLock implements domain.ExchangeLockManager
func (m *MockExchangeLockManager) AcquireLock(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	atomic.AddInt64(&m.LockAttempts, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if entry, exists := m.locks[key]; exists && now.Before(entry.expiresAt) {
		atomic.AddInt64(&m.LockFailures, 1)
		return false, nil
	}
	m.locks[key] = lockEntry{value: value, expiresAt: now.Add(ttl)}
	atomic.AddInt64(&m.LockSuccesses, 1)
	return true, nil
}

// ReleaseLock implements domain.ExchangeLockManager
func (m *MockExchangeLockManager) ReleaseLock(ctx context.Context, key string, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists || entry.value != value {
		return false, nil
	}
	delete(m.locks, key)
	atomic.AddInt64(&m.ReleaseSuccesses, 1)
	return true, nil
}

// Hold takes key on behalf of another process until ttl elapses.
func (m *MockExchangeLockManager) Hold(key string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[key] = lockEntry{value: "other-process", expiresAt: time.Now().Add(ttl)}
}

// Held reports whether key is currently locked.
func (m *MockExchangeLockManager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, exists := m.locks[key]
	return exists && time.Now().Before(entry.expiresAt)
}
