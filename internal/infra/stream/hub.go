// Package stream tracks the client channels that scan sessions push result
// frames to. Clients register a request id over a websocket; frames for
// that id go to whichever connection registered it last.
package stream

import (
	"context"
	"sync"
	"time"

	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
	"github.com/ahrav/pii-sentinel/pkg/common/timeutil"
)

var _ appscan.StreamSender = (*Hub)(nil)

// Registration is the first message a client sends after connecting: the
// request id it wants frames for and the scan kind it expects.
type Registration struct {
	ID   string            `json:"id"`
	Kind scanning.ScanKind `json:"type"`
}

// Conn is the write surface of a websocket connection. It narrows
// *websocket.Conn so the hub can be exercised without a network.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// ClientConnection tracks one registered client channel. Writes to the
// underlying socket are serialized; gorilla/websocket does not allow
// concurrent writers.
type ClientConnection struct {
	RequestID string
	Kind      scanning.ScanKind
	Connected time.Time

	mu     sync.Mutex
	conn   Conn
	logger *logger.Logger
}

// NewClientConnection wraps a registered websocket connection.
func NewClientConnection(
	reg Registration,
	conn Conn,
	timeProvider timeutil.Provider,
	log *logger.Logger,
) *ClientConnection {
	return &ClientConnection{
		RequestID: reg.ID,
		Kind:      reg.Kind,
		Connected: timeProvider.Now(),
		conn:      conn,
		logger:    log.With("component", "client_connection"),
	}
}

// WriteFrame pushes one frame to the client.
func (c *ClientConnection) WriteFrame(frame scanning.StreamFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// Close closes the underlying socket.
func (c *ClientConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Hub is the registry of live client channels keyed by request id.
// Registration is last-write-wins: a client reconnecting for the same
// request id displaces the previous connection.
type Hub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[string]*ClientConnection
}

// NewHub creates an empty registry.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:  log.With("component", "stream_hub"),
		clients: make(map[string]*ClientConnection),
	}
}

// Register tracks a client connection under its request id, displacing any
// previous registration for that id.
func (h *Hub) Register(client *ClientConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.RequestID] = client
}

// Lookup returns the live connection for a request id, if any.
func (h *Hub) Lookup(requestID string) (*ClientConnection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[requestID]
	return client, ok
}

// Unregister removes whatever connection holds the request id. Safe to call
// for an id that was never registered.
func (h *Hub) Unregister(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, requestID)
}

// Drop removes the registration only if it still points at client. A
// connection closing must not displace the newer connection that replaced
// it.
func (h *Hub) Drop(client *ClientConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[client.RequestID]; ok && current == client {
		delete(h.clients, client.RequestID)
	}
}

// Send pushes a frame to the channel registered for requestID and reports
// whether a live channel existed. A write failure drops the connection.
func (h *Hub) Send(requestID string, frame scanning.StreamFrame) bool {
	client, ok := h.Lookup(requestID)
	if !ok {
		return false
	}

	if err := client.WriteFrame(frame); err != nil {
		h.logger.Warn(context.Background(), "writing frame failed",
			"request_id", requestID, "error", err)
		h.Drop(client)
		return false
	}
	return true
}
