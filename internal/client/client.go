// Package client is the page side of the message bridge: one-shot requests
// to the background, push channels for long-lived pages and the tab inbox
// used by content scripts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

// ErrRejected is returned when the background answers a message with an
// error instead of a reply.
var ErrRejected = errors.New("message rejected")

// RejectedError carries the error reply of a rejected message.
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("message rejected (%d %s): %s", e.Status, e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Messenger talks to the background service at a base URL.
type Messenger struct {
	baseURL    string
	httpClient *http.Client
	sender     message.Sender
	marker     string
	lifecycle  *Lifecycle
	logger     *slog.Logger
}

// Option configures a Messenger.
type Option func(*Messenger)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Messenger) {
		m.httpClient = c
	}
}

// WithSender identifies the calling tab and frame on every request.
func WithSender(s message.Sender) Option {
	return func(m *Messenger) {
		m.sender = s
	}
}

// WithHandlerName marks every request for a routing target, e.g. "app" for
// the typed registry. The default sends unmarked legacy messages.
func WithHandlerName(name string) Option {
	return func(m *Messenger) {
		m.marker = name
	}
}

// WithLifecycle ties every channel the messenger opens to lc.
func WithLifecycle(lc *Lifecycle) Option {
	return func(m *Messenger) {
		m.lifecycle = lc
	}
}

// WithLogger sets the logger for background failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Messenger) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a messenger for the service at baseURL.
func New(baseURL string, opts ...Option) *Messenger {
	m := &Messenger{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		lifecycle:  NewLifecycle(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lifecycle returns the page lifecycle channels are disposed with.
func (m *Messenger) Lifecycle() *Lifecycle {
	return m.lifecycle
}

// Request sends one message and returns its reply, or nil when the handler
// produced none.
func (m *Messenger) Request(ctx context.Context, t message.Type, data any) (json.RawMessage, error) {
	raw, err := jsoncodec.Raw(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	msg := message.Message{HandlerName: m.marker, Type: t, Data: raw}

	var reply message.Reply
	if err := m.postJSON(ctx, "/api/message", msg, &reply); err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}
	if jsoncodec.Empty(reply.Data) {
		return nil, nil
	}
	return reply.Data, nil
}

// requestAs sends a message and decodes the reply into T. A missing reply
// leaves T at its zero value.
func requestAs[T any](ctx context.Context, m *Messenger, t message.Type, data any) (T, error) {
	var out T
	raw, err := m.Request(ctx, t, data)
	if err != nil || raw == nil {
		return out, err
	}
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s reply: %w", t, err)
	}
	return out, nil
}

func (m *Messenger) postJSON(ctx context.Context, path string, body, out any) error {
	b, err := jsoncodec.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(req, out)
}

func (m *Messenger) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	return m.do(req, out)
}

func (m *Messenger) do(req *http.Request, out any) error {
	if m.sender.TabID != 0 {
		req.Header.Set("X-Tab-Id", strconv.Itoa(m.sender.TabID))
		req.Header.Set("X-Frame-Id", strconv.Itoa(m.sender.FrameID))
	}
	if m.sender.URL != "" {
		req.Header.Set("X-Tab-Url", m.sender.URL)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		rejected := &RejectedError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var reply struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if jsoncodec.Unmarshal(body, &reply) == nil && reply.Code != "" {
			rejected.Code, rejected.Message = reply.Code, reply.Message
		}
		return rejected
	}

	if out != nil {
		return jsoncodec.Decode(resp.Body, out)
	}
	return nil
}

// wsURL turns the base URL into the WebSocket URL of path.
func (m *Messenger) wsURL(path string) string {
	switch {
	case strings.HasPrefix(m.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(m.baseURL, "https://") + path
	case strings.HasPrefix(m.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(m.baseURL, "http://") + path
	}
	return m.baseURL + path
}
