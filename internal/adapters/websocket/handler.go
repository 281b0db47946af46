package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// Handler upgrades GET /v1/events to a WebSocket and streams credential events.
// It expects to run behind the API key middleware.
type Handler struct {
	hub            *EventHub
	logger         domain.Logger
	configProvider config.Provider
}

// NewHandler creates a new event stream Handler.
func NewHandler(hub *EventHub, cfgProvider config.Provider, logger domain.Logger) *Handler {
	return &Handler{hub: hub, logger: logger, configProvider: cfgProvider}
}

// Register mounts the stream on mux, wrapped with wrap (auth, request id).
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("GET /v1/events", wrap(h))
}

// ServeHTTP accepts ?service= and ?account_id= filters.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := EventFilter{AccountID: r.URL.Query().Get("account_id")}
	if s := r.URL.Query().Get("service"); s != "" {
		service, err := domain.ParseServiceKind(s)
		if err != nil {
			domain.NewErrorResponse(domain.ErrCodeUnsupportedService, "Unsupported service", err.Error()).WriteJSON(w, http.StatusBadRequest)
			return
		}
		filter.Service = service
	}

	// The server's read/write timeouts would otherwise cut long-lived streams.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})  //nolint:errcheck
	_ = rc.SetWriteDeadline(time.Time{}) //nolint:errcheck

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		// Accept has already written the HTTP error.
		h.logger.Warn(r.Context(), "WebSocket upgrade failed", "error", err.Error(), "remote_addr", r.RemoteAddr)
		return
	}

	eventsCfg := h.configProvider.Get().Events
	conn := NewConnection(wsConn, r.RemoteAddr, h.logger, time.Duration(eventsCfg.WriteTimeoutSeconds)*time.Second)
	defer conn.Close(websocket.StatusNormalClosure, "stream ended") //nolint:errcheck

	sub := h.hub.Subscribe(eventsCfg.BufferSize)
	defer sub.Close()

	// Clients only listen. CloseRead answers pings and cancels ctx when the peer goes away.
	ctx := wsConn.CloseRead(r.Context())

	h.logger.Info(ctx, "Event stream opened", "remote_addr", conn.RemoteAddr(), "service", string(filter.Service), "account_id", filter.AccountID)
	h.stream(ctx, conn, sub, filter, time.Duration(eventsCfg.PingIntervalSeconds)*time.Second)
	h.logger.Info(ctx, "Event stream closed", "remote_addr", conn.RemoteAddr())
}

func (h *Handler) stream(ctx context.Context, conn *Connection, sub *Subscription, filter EventFilter, pingInterval time.Duration) {
	if err := conn.WriteJSON(ctx, NewReadyMessage(filter)); err != nil {
		h.logger.Warn(ctx, "Failed to send ready message", "error", err.Error())
		return
	}

	var pings <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down") //nolint:errcheck
				return
			}
			if !filter.Match(event) {
				continue
			}
			if err := conn.WriteJSON(ctx, NewEventMessage(event)); err != nil {
				h.logWriteError(ctx, err)
				return
			}
		case <-pings:
			if err := conn.Ping(ctx); err != nil {
				h.logger.Warn(ctx, "Event stream ping failed", "error", err.Error(), "remote_addr", conn.RemoteAddr())
				conn.Close(websocket.StatusPolicyViolation, "ping timeout") //nolint:errcheck
				return
			}
		}
	}
}

func (h *Handler) logWriteError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
		h.logger.Debug(ctx, "Event stream write after close", "error", err.Error())
		return
	}
	h.logger.Warn(ctx, "Failed to write event to stream", "error", err.Error())
}
