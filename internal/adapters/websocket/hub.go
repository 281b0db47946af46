package websocket

import (
	"context"
	"sync"

	"github.com/Sarayalth/nxapi/internal/adapters/metrics"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// EventHub fans credential events out to every open event stream.
// It implements domain.CredentialEventPublisher so it can stand in for NATS
// when only local clients need the events.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	closed      bool
	logger      domain.Logger
}

// Subscription is one stream's view of the hub. When its buffer is full the
// oldest pending event is dropped.
type Subscription struct {
	hub    *EventHub
	events chan domain.CredentialRefreshedEvent
	once   sync.Once
}

// NewEventHub creates an empty hub.
func NewEventHub(logger domain.Logger) *EventHub {
	return &EventHub{
		subscribers: make(map[*Subscription]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscription with room for buffer pending events.
// Subscribing to a closed hub returns an already closed subscription.
func (h *EventHub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &Subscription{hub: h, events: make(chan domain.CredentialRefreshedEvent, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(sub.events) })
		return sub
	}
	h.subscribers[sub] = struct{}{}
	metrics.SetEventStreamClients(float64(len(h.subscribers)))
	return sub
}

// PublishCredentialRefreshed delivers event to every subscription without blocking.
func (h *EventHub) PublishCredentialRefreshed(ctx context.Context, event domain.CredentialRefreshedEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		if !sub.offer(event) {
			h.logger.Warn(ctx, "Event stream buffer full, dropped oldest event", "service", string(event.Service), "capacity", cap(sub.events))
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription. Streams see their channel close and hang up.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		sub.once.Do(func() { close(sub.events) })
		delete(h.subscribers, sub)
	}
	metrics.SetEventStreamClients(0)
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan domain.CredentialRefreshedEvent {
	return s.events
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subscribers[s]; ok {
		delete(s.hub.subscribers, s)
		metrics.SetEventStreamClients(float64(len(s.hub.subscribers)))
	}
	s.once.Do(func() { close(s.events) })
}

// offer is called with the hub read lock held, so the channel cannot be closed under it.
func (s *Subscription) offer(event domain.CredentialRefreshedEvent) bool {
	select {
	case s.events <- event:
		return true
	default:
	}

	select {
	case <-s.events:
		metrics.IncrementEventStreamDropped()
	default:
	}
	select {
	case s.events <- event:
	default:
		metrics.IncrementEventStreamDropped()
	}
	return false
}
