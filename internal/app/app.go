// Package app assembles the service from its parts and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/do/v2"

	"github.com/nfrund/filterbridge/internal/config"
	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/hub"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/pubsub"
	"github.com/nfrund/filterbridge/internal/server"
	"github.com/nfrund/filterbridge/internal/services"
	"github.com/nfrund/filterbridge/internal/storage"
	"github.com/nfrund/filterbridge/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// App is a fully wired service. Modules have registered their handlers by
// the time New returns; Start boots them and the background loops.
type App struct {
	injector *do.RootScope
	logger   *slog.Logger
	modules  []module.Module

	Server *server.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New builds the service described by cfg.
func New(cfg *config.Config) (*App, error) {
	injector := do.New()
	provide(injector, cfg)

	set, err := do.Invoke[*services.Set](injector)
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}
	srv, err := do.Invoke[*server.Server](injector)
	if err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}

	a := &App{
		injector: injector,
		logger:   do.MustInvoke[*slog.Logger](injector),
		modules:  NewModules(set),
		Server:   srv,
	}

	routers := do.MustInvoke[module.Routers](injector)
	for _, m := range a.modules {
		if err := m.Register(routers); err != nil {
			a.closeStore()
			return nil, fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}
	return a, nil
}

// Start boots every module and starts the background loops. The loops run
// until Shutdown.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("app already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	relay := do.MustInvoke[*pubsub.Relay](a.injector)
	if err := relay.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start event relay: %w", err)
	}

	h := do.MustInvoke[*hub.Hub](a.injector)
	bridge := do.MustInvoke[*websocket.Bridge](a.injector)
	a.running.Add(2)
	go func() {
		defer a.running.Done()
		h.Run(runCtx)
	}()
	go func() {
		defer a.running.Done()
		bridge.Run(runCtx)
	}()

	conns := do.MustInvoke[*connection.Manager](a.injector)
	for _, m := range a.modules {
		if err := m.Boot(ctx, conns); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
		a.logger.Debug("module booted", "module", m.Name())
	}
	a.logger.Info("service started", "modules", len(a.modules))
	return nil
}

// Run starts the service and serves HTTP on cfg.Addr until ctx ends, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	cfg := do.MustInvoke[*config.Config](a.injector)
	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start(cfg.Addr) }()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops the HTTP server, the modules and the background loops, in
// that order, and closes the database.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}

	for _, m := range slices.Backward(a.modules) {
		if err := m.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("module %s: %w", m.Name(), err))
		}
	}
	do.MustInvoke[*connection.Manager](a.injector).CloseAll()

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.running.Wait()

	do.MustInvoke[*engine.Memory](a.injector).Wait()
	if err := do.MustInvoke[*pubsub.WatermillBridge](a.injector).Close(); err != nil {
		errs = append(errs, fmt.Errorf("event channel: %w", err))
	}
	if t, err := do.Invoke[*tracing](a.injector); err == nil {
		t.shutdown()
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	store, err := do.Invoke[*storage.Store](a.injector)
	if err != nil {
		return nil
	}
	return store.Close()
}

// Invoke resolves a service of the running app, for tools and tests.
func Invoke[T any](a *App) (T, error) {
	return do.Invoke[T](a.injector)
}
