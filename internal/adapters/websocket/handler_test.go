package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sarayalth/nxapi/benchmarks/mocks"
	appws "github.com/Sarayalth/nxapi/internal/adapters/websocket"
	"github.com/Sarayalth/nxapi/internal/domain"
)

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newStreamServer(t *testing.T) (*appws.EventHub, *httptest.Server) {
	t.Helper()
	logger := mocks.NewMockLogger()
	hub := appws.NewEventHub(logger)
	mux := http.NewServeMux()
	appws.NewHandler(hub, mocks.NewMockConfigProvider(), logger).Register(mux, func(h http.Handler) http.Handler { return h })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events" + query
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{appws.Subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() }) //nolint:errcheck
	assert.Equal(t, appws.Subprotocol, conn.Subprotocol())
	return conn
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) wireMessage {
	t.Helper()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	var msg wireMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandler_StreamsFilteredEvents(t *testing.T) {
	hub, srv := newStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "?service=nso")

	ready := read(t, ctx, conn)
	assert.Equal(t, appws.MessageTypeReady, ready.Type)
	assert.JSONEq(t, `{"service":"nso"}`, string(ready.Payload))

	require.NoError(t, hub.PublishCredentialRefreshed(ctx, domain.CredentialRefreshedEvent{Service: domain.ServicePCTL, AccountID: "acc-1"}))
	require.NoError(t, hub.PublishCredentialRefreshed(ctx, domain.CredentialRefreshedEvent{Service: domain.ServiceNSO, AccountID: "acc-2", ExpiresAt: 42}))

	msg := read(t, ctx, conn)
	assert.Equal(t, appws.MessageTypeEvent, msg.Type)
	var event domain.CredentialRefreshedEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, domain.ServiceNSO, event.Service)
	assert.Equal(t, "acc-2", event.AccountID)
	assert.Equal(t, int64(42), event.ExpiresAt)
}

func TestHandler_HubCloseEndsStream(t *testing.T) {
	hub, srv := newStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "")
	assert.Equal(t, appws.MessageTypeReady, read(t, ctx, conn).Type)

	hub.Close()

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestHandler_ClientDisconnectUnsubscribes(t *testing.T) {
	hub, srv := newStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, srv, "")
	read(t, ctx, conn)
	require.Equal(t, 1, hub.Subscribers())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsUnknownService(t *testing.T) {
	_, srv := newStreamServer(t)

	resp, err := srv.Client().Get(srv.URL + "/v1/events?service=splatoon")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body domain.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, domain.ErrCodeUnsupportedService, body.Code)
}
