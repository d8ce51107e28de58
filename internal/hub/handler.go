package hub

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait     = 10 * time.Second
	inboxCapacity = 64
)

// Handler streams the notifications of the tab named by the :id path
// parameter over a WebSocket. The socket is write-only; anything the peer
// sends is discarded.
func (h *Hub) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		tabID, err := strconv.Atoi(c.Param("id"))
		if err != nil || tabID <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tab id")
		}

		conn, err := websocket.Accept(c.Response(), c.Request(), nil)
		if err != nil {
			slog.Error("failed to upgrade tab inbox", "tab_id", tabID, "error", err)
			return nil
		}
		defer conn.Close(websocket.StatusNormalClosure, "inbox closed")

		sub := NewSubscriber(tabID, inboxCapacity)
		if !h.Subscribe(sub) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil
		}
		defer h.Unsubscribe(sub)

		// CloseRead discards incoming frames and cancels ctx when the peer
		// goes away.
		ctx := conn.CloseRead(c.Request().Context())
		for {
			select {
			case <-ctx.Done():
				return nil
			case payload, ok := <-sub.Send:
				if !ok {
					return nil
				}
				if err := write(ctx, conn, payload); err != nil {
					slog.Debug("tab inbox write failed", "tab_id", tabID, "error", err)
					return nil
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
