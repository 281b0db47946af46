package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Sarayalth/nxapi/benchmarks/mocks"
	"github.com/Sarayalth/nxapi/benchmarks/utils"
	"github.com/Sarayalth/nxapi/internal/adapters/filestore"
	"github.com/Sarayalth/nxapi/internal/adapters/securestore"
	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/storekeys"
)

const benchEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func benchStores(b *testing.B) map[string]domain.KVStore {
	b.Helper()
	files, err := filestore.New(b.TempDir(), mocks.NewMockLogger())
	if err != nil {
		b.Fatalf("Failed to create file store: %v", err)
	}
	sealedFiles, err := securestore.New(files, benchEncryptionKey)
	if err != nil {
		b.Fatalf("Failed to create encrypted store: %v", err)
	}
	sealedMemory, err := securestore.New(mocks.NewMockKVStore(), benchEncryptionKey)
	if err != nil {
		b.Fatalf("Failed to create encrypted store: %v", err)
	}
	return map[string]domain.KVStore{
		"File":            files,
		"EncryptedFile":   sealedFiles,
		"EncryptedMemory": sealedMemory,
	}
}

// BenchmarkStoreRecordWrite measures persisting one NSO record.
func BenchmarkStoreRecordWrite(b *testing.B) {
	gen := utils.NewRecordGenerator()
	raw, err := gen.Encode(gen.NsoRecord("na-bench", time.Hour))
	if err != nil {
		b.Fatalf("Failed to encode record: %v", err)
	}
	ctx := context.Background()

	for name, store := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			b.SetBytes(int64(len(raw)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := store.Set(ctx, storekeys.NsoTokenKey(fmt.Sprintf("session-%d", i%64)), raw, 0); err != nil {
					b.Fatalf("Set failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkStoreRecordRead measures the read half of a cache hit.
func BenchmarkStoreRecordRead(b *testing.B) {
	gen := utils.NewRecordGenerator()
	raw, err := gen.Encode(gen.NsoRecord("na-bench", time.Hour))
	if err != nil {
		b.Fatalf("Failed to encode record: %v", err)
	}
	ctx := context.Background()
	key := storekeys.NsoTokenKey("session-read")

	for name, store := range benchStores(b) {
		if err := store.Set(ctx, key, raw, 0); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
		b.Run(name, func(b *testing.B) {
			b.SetBytes(int64(len(raw)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := store.Get(ctx, key); err != nil {
					b.Fatalf("Get failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkSessionSelectorLink measures linking accounts, which rewrites the id set.
func BenchmarkSessionSelectorLink(b *testing.B) {
	store := mocks.NewMockKVStore()
	selector := newSelector(store)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := selector.LinkAccount(ctx, domain.ServiceNSO, fmt.Sprintf("na-%d", i%16), "session", nil); err != nil {
			b.Fatalf("LinkAccount failed: %v", err)
		}
	}
}
