package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// ErrNATSNotConfigured is returned when a subscriber is requested without nats.url.
var ErrNATSNotConfigured = errors.New("nats.url is not configured")

// EventHandler receives one decoded credential event.
type EventHandler func(ctx context.Context, event domain.CredentialRefreshedEvent)

// EventSubscriber receives credential events published by other nxapi processes.
type EventSubscriber struct {
	nc      *nats.Conn
	subject string
	logger  domain.Logger
}

// NewEventSubscriber connects to the configured NATS server.
func NewEventSubscriber(ctx context.Context, cfg *config.Config, appLogger domain.Logger) (*EventSubscriber, func(), error) {
	if cfg.NATS.URL == "" {
		return nil, nil, ErrNATSNotConfigured
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.App.ServiceName+"-subscriber"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(context.Background(), "NATS subscription error", "subject", subject, "error", err.Error())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			appLogger.Warn(context.Background(), "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	appLogger.Info(ctx, "Connected to NATS", "url", nc.ConnectedUrl(), "subject", cfg.NATS.Subject)

	s := &EventSubscriber{nc: nc, subject: cfg.NATS.Subject, logger: appLogger}
	cleanup := func() {
		if err := nc.Drain(); err != nil {
			appLogger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
		}
	}
	return s, cleanup, nil
}

// DecodeEvent parses a credential event payload.
func DecodeEvent(data []byte) (domain.CredentialRefreshedEvent, error) {
	var event domain.CredentialRefreshedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("decode credential event: %w", err)
	}
	if event.Service == "" || event.AccountID == "" {
		return event, errors.New("decode credential event: missing service or account_id")
	}
	return event, nil
}

// Subscribe calls handler for each event until ctx is done. A non-empty
// queueGroup load-balances events across subscribers sharing the group.
func (s *EventSubscriber) Subscribe(ctx context.Context, queueGroup string, handler EventHandler) error {
	msgHandler := func(msg *nats.Msg) {
		event, err := DecodeEvent(msg.Data)
		if err != nil {
			s.logger.Warn(ctx, "Dropping malformed credential event", "subject", msg.Subject, "error", err.Error())
			return
		}
		handler(ctx, event)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queueGroup != "" {
		sub, err = s.nc.QueueSubscribe(s.subject, queueGroup, msgHandler)
	} else {
		sub, err = s.nc.Subscribe(s.subject, msgHandler)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			s.logger.Warn(context.Background(), "Failed to unsubscribe", "subject", s.subject, "error", err.Error())
		}
	}()

	<-ctx.Done()
	return nil
}
