package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/filterbridge/internal/browser"
)

// TabsHandler exposes the tab model to content scripts running outside the
// browser, which announce their tab before opening its inbox.
type TabsHandler struct {
	tabs browser.Tabs
}

// NewTabsHandler creates a new TabsHandler.
func NewTabsHandler(tabs browser.Tabs) *TabsHandler {
	return &TabsHandler{tabs: tabs}
}

// Create opens a tab and returns it.
func (h *TabsHandler) Create(c echo.Context) error {
	var req CreateTabRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadEnvelope, Message: "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeInvalidPayload, Message: err.Error()})
	}
	tab, err := h.tabs.Create(c.Request().Context(), req.URL, browser.CreateOptions{Background: req.Background})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tab)
}

// List returns every open tab.
func (h *TabsHandler) List(c echo.Context) error {
	tabs, err := h.tabs.List(c.Request().Context())
	if err != nil {
		return err
	}
	if tabs == nil {
		tabs = []browser.Tab{}
	}
	return c.JSON(http.StatusOK, tabs)
}
