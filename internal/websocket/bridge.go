// Package websocket carries long-lived page connections over WebSockets.
// Each accepted socket becomes a connection.Session; control messages read
// from the socket go to the session and the session's notifications are
// written back in order by a per-client write pump.
package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Default capacity of a client's send channel.
	defaultSendBuffer = 256
)

type registration struct {
	client  *Client
	session *connection.Session
}

// Bridge accepts WebSocket connections and ties each one to a session of
// the connection manager.
type Bridge struct {
	manager        *connection.Manager
	whitelist      *controlWhitelist
	sendBuffer     int
	originPatterns []string

	// clients maps each live client to its session.
	clients map[*Client]*connection.Session
	mu      sync.RWMutex

	register   chan registration
	unregister chan *Client
	done       chan struct{}
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithSendBuffer sets the per-client send channel capacity.
func WithSendBuffer(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.sendBuffer = n
		}
	}
}

// WithOriginPatterns restricts which origins may connect. Without patterns
// only same-host requests are accepted.
func WithOriginPatterns(patterns ...string) BridgeOption {
	return func(b *Bridge) {
		b.originPatterns = patterns
	}
}

// WithWhitelist replaces the default control message whitelist.
func WithWhitelist(w *controlWhitelist) BridgeOption {
	return func(b *Bridge) {
		if w != nil {
			b.whitelist = w
		}
	}
}

// NewBridge creates a bridge serving sessions from manager.
func NewBridge(manager *connection.Manager, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		manager:    manager,
		whitelist:  DefaultControlWhitelist(),
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*Client]*connection.Session),
		register:   make(chan registration),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run manages client registration until ctx ends, then closes every
// remaining connection.
func (b *Bridge) Run(ctx context.Context) {
	slog.Info("websocket bridge runner started")
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client, session := range b.clients {
				session.Close()
				client.Close()
				client.conn.Close(websocket.StatusGoingAway, "server shutting down")
				delete(b.clients, client)
			}
			b.mu.Unlock()
			slog.Info("websocket bridge runner stopped")
			return

		case r := <-b.register:
			b.mu.Lock()
			b.clients[r.client] = r.session
			b.mu.Unlock()
			slog.Debug("client registered", "port", r.client.name)

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				client.Close()
				slog.Debug("client unregistered", "port", client.name)
			}
			b.mu.Unlock()
		}
	}
}

// Len returns the number of registered clients.
func (b *Bridge) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Handler upgrades GET requests carrying ?name=<page>_<id> to a long-lived
// connection. A name that matches no page is accepted and then closed with
// a policy violation.
func (b *Bridge) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.QueryParam("name")
		if name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "connection name is required")
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			OriginPatterns: b.originPatterns,
		})
		if err != nil {
			slog.Error("failed to upgrade connection to websocket", "port", name, "error", err)
			return nil
		}

		client := newClient(name, conn, b.sendBuffer)
		session, err := b.manager.Open(client)
		if err != nil {
			slog.Error("rejected long-lived connection", "port", name, "error", err)
			conn.Close(websocket.StatusPolicyViolation, "unknown page")
			return nil
		}

		select {
		case b.register <- registration{client: client, session: session}:
		case <-b.done:
			session.Close()
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		}

		go client.writePump()
		go b.readPump(client, session)
		return nil
	}
}

// readPump feeds control messages to the session until the socket closes,
// then tears the session down.
func (b *Bridge) readPump(client *Client, session *connection.Session) {
	defer func() {
		session.Close()
		select {
		case b.unregister <- client:
		case <-b.done:
		}
		client.conn.Close(websocket.StatusNormalClosure, "client disconnected")
	}()

	for {
		_, data, err := client.conn.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Info("websocket closed normally by client", "port", client.name)
			} else if !errors.Is(err, io.EOF) {
				slog.Debug("websocket read ended", "port", client.name, "error", err)
			}
			return
		}

		var ctl message.Control
		if err := jsoncodec.Unmarshal(data, &ctl); err != nil {
			slog.Warn("invalid control message", "port", client.name, "error", err)
			continue
		}
		if !b.whitelist.IsAllowed(ctl.Type) {
			slog.Warn("control message type not allowed", "port", client.name, "type", ctl.Type)
			continue
		}
		if err := session.Receive(ctl); err != nil {
			slog.Warn("control message rejected", "port", client.name, "type", ctl.Type, "error", err)
		}
	}
}

// writePump writes queued notifications to the socket in order.
func (c *Client) writePump() {
	defer c.conn.Close(websocket.StatusNormalClosure, "server-side cleanup")

	outbox := c.outbox()
	if outbox == nil {
		return
	}
	for payload := range outbox {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err := c.conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Error("websocket write error", "port", c.name, "error", err)
			return
		}
	}
}
