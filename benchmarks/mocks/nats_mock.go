package mocks

import (
	"context"
	"sync"

	"github.com/Sarayalth/nxapi/internal/domain"
)

// MockEventPublisher implements domain.CredentialEventPublisher by recording events.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []domain.CredentialRefreshedEvent

	// Err, when set, is returned by every publish.
	Err error
}

// NewMockEventPublisher creates a new mock publisher
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

// PublishCredentialRefreshed implements domain.CredentialEventPublisher
func (m *MockEventPublisher) PublishCredentialRefreshed(ctx context.Context, event domain.CredentialRefreshedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.Err
}

// Events returns a copy of the published events.
func (m *MockEventPublisher) Events() []domain.CredentialRefreshedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CredentialRefreshedEvent, len(m.events))
	copy(out, m.events)
	return out
}
