// Package server is the HTTP surface of the service: one-shot messages,
// long-lived page connections and tab inboxes, all served by echo.
package server

import (
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/handlers"
	"github.com/nfrund/filterbridge/internal/hub"
	appmiddleware "github.com/nfrund/filterbridge/internal/middleware"
	"github.com/nfrund/filterbridge/internal/router"
	"github.com/nfrund/filterbridge/internal/websocket"
)

// Dependencies holds everything the server routes to.
type Dependencies struct {
	Dispatcher router.Dispatcher
	Bridge     *websocket.Bridge
	Hub        *hub.Hub
	Tabs       browser.Tabs
	// Registry receives the HTTP metrics and is served on /metrics.
	Registry *prometheus.Registry
	// RequestTimeout bounds each one-shot message.
	RequestTimeout time.Duration
	// AllowedOrigins enables CORS for extension pages served elsewhere.
	AllowedOrigins []string
	Version        string
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E    *echo.Echo
	deps Dependencies
}

// New creates a server with its middleware chain and routes in place.
func New(deps Dependencies) *Server {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Validator = handlers.NewValidator()
	setupErrorHandling(e)

	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "http",
		Registerer: deps.Registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	if len(deps.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: deps.AllowedOrigins,
			AllowHeaders: []string{
				echo.HeaderContentType,
				handlers.HeaderTabID,
				handlers.HeaderFrameID,
				handlers.HeaderTabURL,
			},
		}))
	}

	s := &Server{E: e, deps: deps}
	s.RegisterRoutes()
	return s
}
