// Package stream serves the real-time channel: a websocket hub that fans
// envelopes out to every subscriber and routes inbound envelopes to the
// dispatcher.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/neurallap/companion/internal/channel"
	"github.com/neurallap/companion/internal/dispatcher"
	"github.com/neurallap/companion/internal/logging"
	"github.com/neurallap/companion/pkg/streaming"
)

const (
	sendChSize     = 512
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// Dispatcher routes inbound events.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// Hub tracks connected subscribers. Broadcast never blocks: a subscriber
// whose send buffer is full misses the message.
type Hub struct {
	upgrader   ws.Upgrader
	dispatcher Dispatcher
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	dropped atomic.Uint64
}

// NewHub creates a hub. d may be nil, in which case inbound messages are
// read and discarded.
func NewHub(d Dispatcher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dispatcher: d,
		logger:     logger.With("component", "stream"),
		clients:    make(map[string]*client),
	}
}

// Broadcast marshals payload once and queues it for every subscriber.
func (h *Hub) Broadcast(msgType string, payload any) {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", "type", msgType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.send(data) {
			h.dropped.Add(1)
		}
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many per-subscriber sends were dropped.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeHTTP upgrades the request and runs the subscriber until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn)
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	ctx := logging.ContextWithAttrs(r.Context(), slog.String("client", c.id))
	h.logger.InfoContext(ctx, "Subscriber connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(ctx, c)

	h.unregister(c)
	h.logger.InfoContext(ctx, "Subscriber disconnected")
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// readLoop decodes inbound envelopes and hands them to the dispatcher.
// It returns when the connection fails or is closed.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				h.logger.DebugContext(ctx, "WebSocket read error", "error", err)
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			h.logger.DebugContext(ctx, "Non-envelope message received", "raw", string(message))
			continue
		}
		if h.dispatcher == nil {
			continue
		}

		if _, err := h.dispatcher.Dispatch(dispatcher.Event{
			Command:   env.Type,
			Payload:   env.Payload,
			Client:    c.id,
			Timestamp: time.Now(),
		}); err != nil {
			h.logger.DebugContext(ctx, "Inbound message not handled", "type", env.Type, "error", err)
		}
	}
}

// writeLoop drains the client's send channel. Only one writeLoop runs per
// connection; it returns on error or close.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			_ = c.conn.Close()
			return
		case data := <-c.sendCh.Receive():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("WebSocket SetWriteDeadline error", "client", c.id, "error", err)
				_ = c.conn.Close()
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				h.logger.Debug("WebSocket write error", "client", c.id, "error", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

type client struct {
	id        string
	conn      *ws.Conn
	sendCh    channel.Channel[[]byte]
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *ws.Conn) *client {
	return &client{
		id:     id,
		conn:   conn,
		sendCh: channel.New[[]byte](sendChSize, channel.DropOldest),
		done:   make(chan struct{}),
	}
}

// send queues data without blocking. A subscriber that falls behind loses
// its oldest queued messages.
func (c *client) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return c.sendCh.Offer(data)
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
