package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Sarayalth/nxapi/internal/domain"
)

const defaultWriteTimeout = 10 * time.Second

// Connection wraps a websocket.Conn with write timeouts and idempotent close.
type Connection struct {
	wsConn        *websocket.Conn
	logger        domain.Logger
	mu            sync.Mutex // Protects wsConn
	writeTimeout  time.Duration
	remoteAddrStr string
}

// NewConnection creates a new managed WebSocket connection.
func NewConnection(wsConn *websocket.Conn, remoteAddr string, logger domain.Logger, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Connection{
		wsConn:        wsConn,
		logger:        logger,
		writeTimeout:  writeTimeout,
		remoteAddrStr: remoteAddr,
	}
}

// WriteJSON marshals v and writes it as one text message.
func (c *Connection) WriteJSON(ctx context.Context, v any) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil {
		return errors.New("WebSocket connection is already closed")
	}
	return c.wsConn.Write(writeCtx, websocket.MessageText, msgBytes)
}

// Ping sends a ping and waits for the pong. A concurrent reader must be
// running (see websocket.Conn.CloseRead) for the pong to be observed.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	wsConn := c.wsConn
	c.mu.Unlock()
	if wsConn == nil {
		return errors.New("WebSocket connection is already closed")
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsConn.Ping(pingCtx)
}

// Close closes the connection with statusCode. Later calls are no-ops.
func (c *Connection) Close(statusCode websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil {
		return nil
	}
	c.logger.Debug(context.Background(), "Closing event stream", "statusCode", int(statusCode), "reason", reason, "remoteAddr", c.remoteAddrStr)
	err := c.wsConn.Close(statusCode, reason)
	c.wsConn = nil
	return err
}

// RemoteAddr returns the remote network address string of the client.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddrStr
}
