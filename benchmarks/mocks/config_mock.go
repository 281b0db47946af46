package mocks

import (
	"sync"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
)

// MockConfigProvider implements config.Provider for tests and benchmarks.
type MockConfigProvider struct {
	mu     sync.RWMutex
	config *config.Config
}

// NewMockConfigProvider returns the built-in defaults tuned for tests:
// no attestation throttling, short lock waits and a fixed API key.
func NewMockConfigProvider() *MockConfigProvider {
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Store.Backend = "file"
	cfg.Store.Dir = ""
	cfg.Attestation.RatePerSecond = 0
	cfg.Auth.APIKey = "test-api-key"
	cfg.App.ServiceName = "nxapi-test"
	cfg.App.ExchangeLockTTLSeconds = 5
	cfg.App.ExchangeLockWaitSeconds = 1
	return &MockConfigProvider{config: cfg}
}

// Get implements config.Provider
func (m *MockConfigProvider) Get() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// UpdateConfig swaps the configuration, like a reload would.
func (m *MockConfigProvider) UpdateConfig(update func(cfg *config.Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *m.config
	update(&copied)
	m.config = &copied
}
