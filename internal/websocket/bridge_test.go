package websocket_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
	ws "github.com/nfrund/filterbridge/internal/websocket"
)

type testFixture struct {
	bus     *events.Bus
	manager *connection.Manager
	bridge  *ws.Bridge
	server  *httptest.Server
	ctx     context.Context
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	bus := events.NewBus()
	manager := connection.NewManager(bus)
	bridge := ws.NewBridge(manager, ws.WithSendBuffer(16))

	ctx, cancel := context.WithCancel(context.Background())
	go bridge.Run(ctx)

	e := echo.New()
	e.GET("/api/connect", bridge.Handler())
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return &testFixture{bus: bus, manager: manager, bridge: bridge, server: server, ctx: ctx}
}

func connectTestClient(t *testing.T, server *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/connect?name=" + name
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "test complete")
	})
	return conn
}

func subscribe(t *testing.T, ctx context.Context, conn *websocket.Conn, names ...string) {
	t.Helper()
	data, err := json.Marshal(message.Subscription{Events: names})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, message.Control{Type: message.AddLongLivedConnection, Data: data}))
}

type pushed struct {
	Type message.Type      `json:"type"`
	Data []json.RawMessage `json:"data"`
}

func TestBridge_ForwardsSubscribedEvents(t *testing.T) {
	f := setupTestFixture(t)
	conn := connectTestClient(t, f.server, "filtering-log_abc")

	subscribe(t, f.ctx, conn, string(events.TabAdded))
	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, time.Second, 10*time.Millisecond)

	f.bus.Publish(events.TabUpdate, 1)
	f.bus.Publish(events.TabAdded, 7, "title")

	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	var got pushed
	require.NoError(t, wsjson.Read(ctx, conn, &got))

	assert.Equal(t, message.NotifyListeners, got.Type)
	require.Len(t, got.Data, 3)
	assert.JSONEq(t, `"log.tab.added"`, string(got.Data[0]))
	assert.JSONEq(t, `7`, string(got.Data[1]))
	assert.JSONEq(t, `"title"`, string(got.Data[2]))
}

func TestBridge_PreservesOrder(t *testing.T) {
	f := setupTestFixture(t)
	conn := connectTestClient(t, f.server, "fullscreen_user_rules_editor_1")

	subscribe(t, f.ctx, conn, string(events.FullscreenUserRulesEditorUpdated))
	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, time.Second, 10*time.Millisecond)

	for i := range 5 {
		f.bus.Publish(events.FullscreenUserRulesEditorUpdated, i)
	}

	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	for i := range 5 {
		var got pushed
		require.NoError(t, wsjson.Read(ctx, conn, &got))
		require.Len(t, got.Data, 2)
		var n int
		require.NoError(t, json.Unmarshal(got.Data[1], &n))
		assert.Equal(t, i, n)
	}
}

func TestBridge_DisconnectRemovesListener(t *testing.T) {
	f := setupTestFixture(t)
	conn := connectTestClient(t, f.server, "filtering-log_abc")

	subscribe(t, f.ctx, conn, string(events.LogEventAdded))
	require.Eventually(t, func() bool { return f.bus.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "page unloaded"))

	assert.Eventually(t, func() bool {
		return f.bus.Len() == 0 && f.manager.Len() == 0 && f.bridge.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBridge_UnknownPageIsClosed(t *testing.T) {
	f := setupTestFixture(t)
	conn := connectTestClient(t, f.server, "popup_1")

	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)

	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Equal(t, 0, f.manager.Len())
}

func TestBridge_InvalidMessageKeepsConnection(t *testing.T) {
	f := setupTestFixture(t)
	conn := connectTestClient(t, f.server, "filtering-log_abc")

	require.NoError(t, conn.Write(f.ctx, websocket.MessageText, []byte(`{invalid json`)))
	require.NoError(t, wsjson.Write(f.ctx, conn, message.Control{Type: message.SaveUserRules}))
	subscribe(t, f.ctx, conn, "X")

	assert.Eventually(t, func() bool { return f.bus.Len() == 1 }, time.Second, 10*time.Millisecond,
		"connection should remain open after invalid messages")
}
