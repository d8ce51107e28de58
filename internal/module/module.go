package module

import (
	"context"

	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/router"
)

// Routers are the message routers a module registers handlers with.
type Routers struct {
	// Legacy receives messages without a handler marker.
	Legacy *router.Legacy
	// App receives messages marked "app".
	App *router.Registry
	// Engine receives messages marked "tsWebExtension".
	Engine *router.Registry
}

// Module defines the contract for a self-contained background service.
type Module interface {
	// Name returns a unique identifier for the module.
	Name() string

	// Register is called during startup to register the module's message
	// handlers. Registering a type twice is a startup error.
	Register(routers Routers) error

	// Boot is called after all modules have registered. This is the phase
	// for page hooks and background subscriptions.
	Boot(ctx context.Context, conns *connection.Manager) error

	// Shutdown is called during graceful shutdown.
	Shutdown(ctx context.Context) error
}

// BaseModule provides default no-op implementations for Module methods.
// Modules can embed this to avoid implementing methods they don't need.
type BaseModule struct{}

func (m *BaseModule) Register(routers Routers) error { return nil }
func (m *BaseModule) Boot(ctx context.Context, conns *connection.Manager) error {
	return nil
}
func (m *BaseModule) Shutdown(ctx context.Context) error {
	return nil
}
