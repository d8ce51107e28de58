package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/hub"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/router"
	ws "github.com/nfrund/filterbridge/internal/websocket"
)

func TestHTTPErrorHandler_WithStackTrace(t *testing.T) {
	e := echo.New()

	var logBuffer bytes.Buffer
	handler := slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{
		AddSource: true,
	})
	originalLogger := slog.Default()
	slog.SetDefault(slog.New(handler))
	defer slog.SetDefault(originalLogger)

	setupErrorHandling(e)

	e.GET("/test-unhandled-error", func(c echo.Context) error {
		return errors.New("a deliberate unhandled error occurred")
	})

	req := httptest.NewRequest(http.MethodGet, "/test-unhandled-error", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code, "Expected a 500 Internal Server Error response")
	assert.JSONEq(t, `{"code":"internal_server_error","message":"Internal Server Error"}`, rec.Body.String())

	logOutput := logBuffer.String()
	assert.Contains(t, logOutput, "Internal Server Error (Unhandled)", "Log message should indicate an unhandled error")
	assert.Contains(t, logOutput, "error=\"a deliberate unhandled error occurred\"", "Log should contain the original error message")
	assert.Contains(t, logOutput, "stack_trace=", "Log must contain the stack_trace field")
	assert.Contains(t, logOutput, "runtime/debug/stack.go", "Stack trace should originate from the debug package")
	assert.Contains(t, logOutput, "internal/server/server_test.go", "Stack trace should point back to this test file")
}

func TestHTTPErrorHandler_HTTPError(t *testing.T) {
	e := echo.New()
	setupErrorHandling(e)

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":"not_found","message":"Not Found"}`, rec.Body.String())
}

type testServer struct {
	bus     *events.Bus
	hub     *hub.Hub
	tabs    *browser.Memory
	server  *httptest.Server
	wsBase  string
	ctx     context.Context
	handled chan message.Message
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	bus := events.NewBus()
	conns := connection.NewManager(bus)
	bridge := ws.NewBridge(conns)
	h := hub.NewHub(nil)
	go bridge.Run(ctx)
	go h.Run(ctx)

	ts := &testServer{bus: bus, hub: h, ctx: ctx, handled: make(chan message.Message, 8)}
	ts.tabs = browser.NewMemory(h.Deliver)

	legacy := router.NewLegacy()
	legacy.MustRegister("getOptionsData", func(_ context.Context, msg message.Message, sender message.Sender) (any, error) {
		ts.handled <- msg
		return map[string]any{"appVersion": "4.1.0", "tab": sender.TabID}, nil
	})

	s := New(Dependencies{
		Dispatcher:     router.NewDemux(legacy, router.NewRegistry(), router.NewRegistry()),
		Bridge:         bridge,
		Hub:            h,
		Tabs:           ts.tabs,
		Registry:       prometheus.NewRegistry(),
		RequestTimeout: time.Second,
		Version:        "4.1.0",
	})
	ts.server = httptest.NewServer(s.E)
	ts.wsBase = "ws" + strings.TrimPrefix(ts.server.URL, "http")

	t.Cleanup(func() {
		ts.server.Close()
		cancel()
	})
	return ts
}

func (ts *testServer) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (ts *testServer) post(t *testing.T, path, body string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)
	status, body := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","version":"4.1.0","connections":0}`, body)
}

func TestMessageRoute(t *testing.T) {
	ts := setupServer(t)

	resp, body := ts.post(t, "/api/message", `{"type":"getOptionsData"}`, http.Header{"X-Tab-Id": {"3"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"data":{"appVersion":"4.1.0","tab":3}}`, body)
	assert.NotEmpty(t, resp.Header.Get(echo.HeaderXRequestID))

	msg := <-ts.handled
	assert.Equal(t, message.Type("getOptionsData"), msg.Type)

	resp, body = ts.post(t, "/api/message", `{"type":"nope"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, `"unknown_type"`)

	resp, _ = ts.post(t, "/api/message", `{"type":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	ts := setupServer(t)
	ts.get(t, "/health")

	status, body := ts.get(t, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `url="/health"`)
}

func TestTabInboxReceivesNotifications(t *testing.T) {
	ts := setupServer(t)

	resp, body := ts.post(t, "/api/tabs", `{"url":"https://example.org/"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tab browser.Tab
	require.NoError(t, json.Unmarshal([]byte(body), &tab))

	ctx, cancel := context.WithTimeout(ts.ctx, 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, ts.wsBase+"/api/tabs/"+strconv.Itoa(tab.ID)+"/inbox", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	got := make(chan message.Notification, 1)
	go func() {
		var n message.Notification
		if err := wsjson.Read(ctx, conn, &n); err == nil {
			got <- n
		}
	}()

	// The inbox registers after the upgrade completes.
	require.Eventually(t, func() bool {
		if err := ts.tabs.SendMessage(ctx, tab.ID, message.Notify(events.AdsBlocked, tab.ID)); err != nil {
			return false
		}
		select {
		case n := <-got:
			return n.Type == message.NotifyListeners && n.Data[0] == string(events.AdsBlocked)
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestConnectRoute(t *testing.T) {
	ts := setupServer(t)

	ctx, cancel := context.WithTimeout(ts.ctx, 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, ts.wsBase+"/api/connect?name=filtering-log_1", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	data, err := json.Marshal(message.Subscription{Events: []string{string(events.SettingUpdated)}})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, message.Control{Type: message.AddLongLivedConnection, Data: data}))

	require.Eventually(t, func() bool { return ts.bus.Len() == 1 }, time.Second, 10*time.Millisecond)
	ts.bus.Publish(events.SettingUpdated, "showPageStats", true)

	var n message.Notification
	require.NoError(t, wsjson.Read(ctx, conn, &n))
	assert.Equal(t, []any{string(events.SettingUpdated), "showPageStats", true}, n.Data)
}
