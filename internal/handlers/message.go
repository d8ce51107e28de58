package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/middleware"
	"github.com/nfrund/filterbridge/internal/router"
)

// MessageHandler serves one-shot messages: one request, one reply.
type MessageHandler struct {
	dispatcher router.Dispatcher
	timeout    time.Duration
}

// NewMessageHandler creates a handler dispatching through d. Each message
// is bounded by timeout; zero means only the request context bounds it.
func NewMessageHandler(d router.Dispatcher, timeout time.Duration) *MessageHandler {
	return &MessageHandler{dispatcher: d, timeout: timeout}
}

// Post dispatches the envelope in the request body. The reply is
// {"data": ...}, with data absent when the handler produced none; a
// rejected message is answered with 422 and an ErrorResponse.
func (h *MessageHandler) Post(c echo.Context) error {
	logger := middleware.FromContext(c.Request().Context())

	var msg message.Message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadEnvelope, Message: "request body is not a message envelope"})
	}
	if msg.Type == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadEnvelope, Message: "message type is required"})
	}
	sender, err := senderFrom(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadEnvelope, Message: err.Error()})
	}

	ctx := c.Request().Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.dispatcher.Dispatch(ctx, msg, sender)
	if err != nil {
		logger.Warn("message rejected", "type", msg.Type, "handler", msg.HandlerName, "error", err)
		return c.JSON(http.StatusUnprocessableEntity, rejection(err))
	}

	raw, err := jsoncodec.Raw(result)
	if err != nil {
		return err
	}
	logger.Debug("message handled", "type", msg.Type, "handler", msg.HandlerName, "has_reply", raw != nil)
	return c.JSON(http.StatusOK, message.Reply{Data: raw})
}

// RegisterRoutes mounts the handler on g.
func (h *MessageHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/message", h.Post)
}
