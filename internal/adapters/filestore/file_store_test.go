package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sarayalth/nxapi/benchmarks/mocks"
	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/crypto"
)

func newTestStore(t *testing.T) (*Store, *mocks.MockLogger) {
	t.Helper()
	logger := mocks.NewMockLogger()
	s, err := New(filepath.Join(t.TempDir(), "store"), logger)
	require.NoError(t, err)
	return s, logger
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Get(ctx, "NsoToken.abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Set(ctx, "NsoToken.abc", []byte(`{"a":1}`), 0))
	got, err := s.Get(ctx, "NsoToken.abc")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)

	require.NoError(t, s.Set(ctx, "NsoToken.abc", []byte(`{"a":2}`), 0))
	got, err = s.Get(ctx, "NsoToken.abc")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), got)

	require.NoError(t, s.Delete(ctx, "NsoToken.abc"))
	_, err = s.Get(ctx, "NsoToken.abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "NsoToken.abc"), "deleting a missing key is not an error")
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "lock", []byte("x"), time.Minute))
	_, err := s.Get(ctx, "lock")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, "lock")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, statErr := os.Stat(s.path("lock"))
	assert.True(t, os.IsNotExist(statErr), "expired entry is removed on read")
}

func TestStore_Keys(t *testing.T) {
	ctx := context.Background()
	s, logger := newTestStore(t)

	require.NoError(t, s.Set(ctx, "NintendoAccountToken.na-1", []byte(`"s1"`), 0))
	require.NoError(t, s.Set(ctx, "NintendoAccountToken.na-2", []byte(`"s2"`), 0))
	require.NoError(t, s.Set(ctx, "NsoToken.abc", []byte(`{}`), 0))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "garbage"), []byte("not json"), 0o600))

	keys, err := s.Keys(ctx, "NintendoAccountToken.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"NintendoAccountToken.na-1", "NintendoAccountToken.na-2"}, keys)
	assert.Len(t, logger.EntriesByLevel("WARN"), 1)
}

func TestStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(s.dir, crypto.Sha256Hex("NsoToken.abc")), []byte("{truncated"), 0o600))
	_, err := s.Get(ctx, "NsoToken.abc")
	assert.ErrorIs(t, err, domain.ErrCacheCorruption)
}

func TestStore_ValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := New(dir, mocks.NewMockLogger())
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "SelectedUser", []byte(`"na-1"`), 0))

	second, err := New(dir, mocks.NewMockLogger())
	require.NoError(t, err)
	got, err := second.Get(ctx, "SelectedUser")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"na-1"`), got)
	assert.NoError(t, second.Ping(ctx))
}

func TestNew_EmptyDir(t *testing.T) {
	_, err := New("", mocks.NewMockLogger())
	assert.Error(t, err)
}
