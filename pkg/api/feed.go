package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/stream"
)

// Feed broadcasts the event bus firehose to WebSocket clients: canvas
// card and connection events, parent suggestions, and operation progress.
// The canvas front end uses it to materialize AI-created cards live.
type Feed struct {
	events       *bus.Bus
	writeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.RWMutex
	conns map[string]*feedConn

	sub *bus.Subscription
}

// feedConn is one connected WebSocket client.
type feedConn struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewFeed creates a feed over the given bus.
func NewFeed(events *bus.Bus, writeTimeout time.Duration, logger *slog.Logger) *Feed {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		events:       events,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "ws_feed"),
		conns:        make(map[string]*feedConn),
	}
}

// Start subscribes the feed to the bus firehose. Events are delivered in
// emission order; a slow client only delays its own writes.
func (f *Feed) Start() {
	f.sub = f.events.SubscribeAsync(bus.TopicAll, "ws_feed", f.handle)
}

// Stop unsubscribes and closes every connection.
func (f *Feed) Stop() {
	if f.sub != nil {
		f.sub.Unsubscribe()
		f.sub = nil
	}
	f.mu.Lock()
	conns := make([]*feedConn, 0, len(f.conns))
	for _, c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()
	for _, c := range conns {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// handle marshals one bus event and broadcasts it. Payloads go through
// the stream flattener so every event the bus carries serializes.
func (f *Feed) handle(_ context.Context, ev bus.Event) {
	data, err := json.Marshal(map[string]any{
		"topic":     ev.Topic,
		"payload":   stream.Flatten(ev.Payload),
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		f.logger.Warn("marshaling feed event failed", "topic", ev.Topic, "error", err)
		return
	}
	f.broadcast(data)
}

// broadcast sends raw bytes to every connection. Connection pointers are
// snapshotted under the lock, then released before the sends so a slow
// write cannot stall register/unregister.
func (f *Feed) broadcast(data []byte) {
	f.mu.RLock()
	conns := make([]*feedConn, 0, len(f.conns))
	for _, c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.RUnlock()

	for _, c := range conns {
		if err := f.sendRaw(c, data); err != nil {
			f.logger.Warn("sending to feed client failed",
				"connection_id", c.id, "error", err)
		}
	}
}

// HandleConnection manages one WebSocket client. Called by the HTTP
// handler after upgrade; blocks until the connection closes. Client
// messages are ignored — the feed is one-way.
func (f *Feed) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &feedConn{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	f.register(c)
	defer f.unregister(c)

	f.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// ActiveConnections returns the count of connected clients.
func (f *Feed) ActiveConnections() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.conns)
}

func (f *Feed) register(c *feedConn) {
	f.mu.Lock()
	f.conns[c.id] = c
	f.mu.Unlock()
	f.logger.Debug("feed client connected", "connection_id", c.id)
}

func (f *Feed) unregister(c *feedConn) {
	f.mu.Lock()
	delete(f.conns, c.id)
	f.mu.Unlock()
	c.cancel()
	f.logger.Debug("feed client disconnected", "connection_id", c.id)
}

func (f *Feed) sendJSON(c *feedConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		f.logger.Warn("marshaling feed message failed", "connection_id", c.id, "error", err)
		return
	}
	if err := f.sendRaw(c, data); err != nil {
		f.logger.Warn("sending feed message failed", "connection_id", c.id, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (f *Feed) sendRaw(c *feedConn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, f.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
