package websocket

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

var (
	// ErrSendBufferFull is returned by Post when the client is not draining
	// its notifications fast enough.
	ErrSendBufferFull = errors.New("client send buffer full")
	// ErrClientClosed is returned by Post after the client disconnected.
	ErrClientClosed = errors.New("client closed")
)

// Client is one connected page. It implements connection.Port: Post
// enqueues a notification and the write pump delivers it in order.
type Client struct {
	name string
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
}

func newClient(name string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		name: name,
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

// Name returns the connection name the page dialled with.
func (c *Client) Name() string {
	return c.name
}

// Post encodes n and queues it for the write pump without blocking.
func (c *Client) Post(n message.Notification) error {
	payload, err := jsoncodec.Marshal(n)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.send == nil {
		return ErrClientClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		slog.Warn("client send channel full, dropping message", "port", c.name)
		return ErrSendBufferFull
	}
}

// Close closes the send channel, which stops the write pump.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.send != nil {
		close(c.send)
		c.send = nil
	}
}

// outbox returns the channel drained by the write pump.
func (c *Client) outbox() <-chan []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.send
}
