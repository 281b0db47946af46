// Package filestore is a directory-backed domain.KVStore for single-user CLI use.
// Each key is one JSON file named by the SHA-256 of the key, replaced atomically on write.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/crypto"
)

type entry struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // epoch ms, 0 = never
}

// Store implements domain.KVStore on a local directory.
type Store struct {
	dir    string
	mu     sync.RWMutex
	now    func() time.Time
	logger domain.Logger
}

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string, logger domain.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now, logger: logger}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, crypto.Sha256Hex(key))
}

func (s *Store) read(path string) (*entry, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCacheCorruption, filepath.Base(path), err)
	}
	return &e, nil
}

func (s *Store) expired(e *entry) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt <= s.now().UnixMilli()
}

// Get returns the value for key, or domain.ErrNotFound when absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, err := s.read(s.path(key))
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if e.Key != key {
		return nil, fmt.Errorf("%w: hash collision for stored key", domain.ErrCacheCorruption)
	}
	if s.expired(e) {
		_ = s.Delete(ctx, key) //nolint:errcheck
		return nil, domain.ErrNotFound
	}
	return e.Value, nil
}

// Set writes key atomically.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{Key: key, Value: value}
	if ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl).UnixMilli()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("filestore: encode entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomic.WriteFile(s.path(key), bytes.NewReader(b)); err != nil {
		return fmt.Errorf("filestore: write entry: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: delete entry: %w", err)
	}
	return nil
}

// Keys scans the directory. Unreadable entries are skipped and logged.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: list %s: %w", s.dir, err)
	}
	var keys []string
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		e, err := s.read(filepath.Join(s.dir, de.Name()))
		if err != nil {
			s.logger.Warn(ctx, "Skipping unreadable store entry", "file", de.Name(), "error", err.Error())
			continue
		}
		if strings.HasPrefix(e.Key, prefix) && !s.expired(e) {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

// Ping checks that the directory is still accessible.
func (s *Store) Ping(context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}
