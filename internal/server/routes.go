package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nfrund/filterbridge/internal/handlers"
	appmiddleware "github.com/nfrund/filterbridge/internal/middleware"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	api := s.E.Group("/api")

	handlers.NewMessageHandler(s.deps.Dispatcher, s.deps.RequestTimeout).RegisterRoutes(api)

	if s.deps.Bridge != nil {
		api.GET("/connect", s.deps.Bridge.Handler())
	}
	if s.deps.Hub != nil {
		api.GET("/tabs/:id/inbox", s.deps.Hub.Handler())
	}
	if s.deps.Tabs != nil {
		tabs := handlers.NewTabsHandler(s.deps.Tabs)
		api.GET("/tabs", tabs.List)
		api.POST("/tabs", tabs.Create, appmiddleware.RateLimiter(5, 20))
	}

	s.E.GET("/health", func(c echo.Context) error {
		status := echo.Map{"status": "ok", "version": s.deps.Version}
		if s.deps.Bridge != nil {
			status["connections"] = s.deps.Bridge.Len()
		}
		return c.JSON(http.StatusOK, status)
	})
	s.E.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
}
