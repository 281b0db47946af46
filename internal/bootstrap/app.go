package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sarayalth/nxapi/internal/adapters/middleware"
	appnats "github.com/Sarayalth/nxapi/internal/adapters/nats"
	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/safego"
)

type connectionChecker interface {
	Connected() bool
}

// routes registers health, metrics and API endpoints on the mux.
func (a *App) routes(ctx context.Context) {
	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"OK"}`)
	})))

	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(http.HandlerFunc(a.ready)))
	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))

	if a.configProvider.Get().Auth.APIKey == "" {
		a.logger.Warn(ctx, "auth.api_key is not set; /v1 endpoints will reject every request")
	}
	wrap := func(h http.Handler) http.Handler {
		return middleware.Chain(h, middleware.RequestIDMiddleware, a.apiAuthMiddleware)
	}
	a.handlers.Register(a.httpServeMux, wrap)
	a.eventsHandler.Register(a.httpServeMux, wrap)
	a.logger.Info(ctx, "Credential API registered at /v1")
}

// relayEvents feeds events from every nxapi process into the local hub.
// Without NATS the hub already is the publisher.
func (a *App) relayEvents(ctx context.Context) {
	cfg := a.configProvider.Get()
	if cfg.NATS.URL == "" {
		return
	}
	sub, cleanup, err := appnats.NewEventSubscriber(ctx, cfg, a.logger)
	if err != nil {
		a.logger.Error(ctx, "Event relay disabled: failed to subscribe to NATS", "error", err.Error())
		return
	}
	safego.Execute(ctx, a.logger, "CredentialEventRelay", func() {
		defer cleanup()
		if err := sub.Subscribe(ctx, "", func(ctx context.Context, event domain.CredentialRefreshedEvent) {
			_ = a.eventHub.PublishCredentialRefreshed(ctx, event) //nolint:errcheck
		}); err != nil {
			a.logger.Error(ctx, "Event relay stopped", "error", err.Error())
		}
	})
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ready := true
	dependenciesStatus := make(map[string]string)

	if err := a.store.Ping(r.Context()); err == nil {
		dependenciesStatus["store"] = "ok"
	} else {
		dependenciesStatus["store"] = "unavailable"
		ready = false
		a.logger.Warn(r.Context(), "Readiness check failed: store ping failed", "error", err.Error())
	}

	if cc, ok := a.publisher.(connectionChecker); ok {
		if cc.Connected() {
			dependenciesStatus["nats"] = "connected"
		} else {
			dependenciesStatus["nats"] = "disconnected"
			ready = false
			a.logger.Warn(r.Context(), "Readiness check failed: NATS disconnected")
		}
	} else {
		dependenciesStatus["nats"] = "not_configured"
	}

	response := struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}{
		Dependencies: dependenciesStatus,
	}
	if ready {
		response.Status = "READY"
		w.WriteHeader(http.StatusOK)
	} else {
		response.Status = "NOT_READY"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error(r.Context(), "Failed to encode readiness response", "error", err)
	}
}

// Run serves the HTTP API until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	appCfg := a.configProvider.Get()
	a.logger.Info(ctx, "Starting application", "service_name", appCfg.App.ServiceName, "version", appCfg.App.Version)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a.routes(ctx)
	a.relayEvents(ctx)

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}
		stop()

		shutdownTimeout := 30 * time.Second
		if s := a.configProvider.Get().App.ShutdownTimeoutSeconds; s > 0 {
			shutdownTimeout = time.Duration(s) * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked stream connections are not tracked by Shutdown.
		a.eventHub.Close()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", appCfg.Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.credentialService.Wait()
	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}
