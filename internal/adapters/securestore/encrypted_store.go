// Package securestore wraps a domain.KVStore so values are sealed with AES-GCM at rest.
package securestore

import (
	"context"
	"fmt"
	"time"

	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/crypto"
)

// EncryptedStore encrypts values before delegating to the inner store.
// Keys are stored as-is so prefix listing keeps working.
type EncryptedStore struct {
	inner  domain.KVStore
	keyHex string
}

// New validates keyHex (64 hex chars, AES-256) and returns the decorator.
func New(inner domain.KVStore, keyHex string) (*EncryptedStore, error) {
	if err := crypto.ValidateAESKey(keyHex); err != nil {
		return nil, fmt.Errorf("store encryption key: %w", err)
	}
	return &EncryptedStore{inner: inner, keyHex: keyHex}, nil
}

// Get decrypts the stored value. A value that cannot be opened is reported as
// domain.ErrCacheCorruption so callers treat it like an unreadable record.
func (s *EncryptedStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.DecryptAESGCM(s.keyHex, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorruption, err)
	}
	return plain, nil
}

func (s *EncryptedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sealed, err := crypto.EncryptAESGCM(s.keyHex, value)
	if err != nil {
		return fmt.Errorf("encrypt value: %w", err)
	}
	return s.inner.Set(ctx, key, sealed, ttl)
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *EncryptedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(ctx, prefix)
}

func (s *EncryptedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}
