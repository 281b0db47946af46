package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/adapters/metrics"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// EventPublisher publishes credential events on a core NATS subject.
type EventPublisher struct {
	nc      *nats.Conn
	subject string
	logger  domain.Logger
}

// NewEventPublisher connects to NATS when nats.url is configured. Without a URL
// it returns a NoopPublisher so callers never branch on configuration.
func NewEventPublisher(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (domain.CredentialEventPublisher, func(), error) {
	cfg := cfgProvider.Get()
	natsCfg := cfg.NATS
	if natsCfg.URL == "" {
		appLogger.Debug(ctx, "NATS URL not configured; credential events are not published")
		return NoopPublisher{}, func() {}, nil
	}

	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", natsCfg.URL)
	nc, err := nats.Connect(natsCfg.URL,
		nats.Name(cfg.App.ServiceName+"-publisher"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(context.Background(), "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(context.Background(), "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(context.Background(), "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", natsCfg.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}

	p := &EventPublisher{nc: nc, subject: natsCfg.Subject, logger: appLogger}
	cleanup := func() {
		if nc.IsClosed() {
			return
		}
		if err := nc.Drain(); err != nil {
			appLogger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
		}
	}
	return p, cleanup, nil
}

// PublishCredentialRefreshed implements domain.CredentialEventPublisher.
func (p *EventPublisher) PublishCredentialRefreshed(ctx context.Context, event domain.CredentialRefreshedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal credential event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Nxapi-Service", string(event.Service))

	if err := p.nc.PublishMsg(msg); err != nil {
		metrics.IncrementEventPublished("error")
		p.logger.Error(ctx, "Failed to publish credential event", "subject", p.subject, "error", err.Error())
		return fmt.Errorf("nats publish to %s failed: %w", p.subject, err)
	}
	metrics.IncrementEventPublished("ok")
	return nil
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) PublishCredentialRefreshed(context.Context, domain.CredentialRefreshedEvent) error {
	return nil
}

// Connected reports whether the underlying connection is up.
func (p *EventPublisher) Connected() bool {
	return p.nc.Status() == nats.CONNECTED
}
