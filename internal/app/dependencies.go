package app

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/config"
	"github.com/nfrund/filterbridge/internal/connection"
	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/hub"
	"github.com/nfrund/filterbridge/internal/logging"
	"github.com/nfrund/filterbridge/internal/metrics"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/pubsub"
	"github.com/nfrund/filterbridge/internal/router"
	"github.com/nfrund/filterbridge/internal/server"
	"github.com/nfrund/filterbridge/internal/services"
	"github.com/nfrund/filterbridge/internal/storage"
	"github.com/nfrund/filterbridge/internal/websocket"
)

// tracing is the event channel tracer and the hook that flushes it.
type tracing struct {
	tracer   trace.Tracer
	shutdown func()
}

// provide registers the constructor of every core service. Services are
// built lazily on first invocation, so the order here does not matter.
func provide(i do.Injector, cfg *config.Config) {
	do.ProvideValue(i, cfg)

	do.Provide(i, func(i do.Injector) (*slog.Logger, error) {
		return logging.New(cfg.LogFormat, cfg.LogLevel), nil
	})

	do.Provide(i, func(i do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg, nil
	})

	do.Provide(i, func(i do.Injector) (*metrics.Metrics, error) {
		reg, err := do.Invoke[*prometheus.Registry](i)
		if err != nil {
			return nil, err
		}
		return metrics.New(reg), nil
	})

	do.Provide(i, func(i do.Injector) (*events.Bus, error) {
		return events.NewBus(
			events.WithLogger(do.MustInvoke[*slog.Logger](i)),
			events.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*tracing, error) {
		tracer, shutdown, err := pubsub.SetupOTel(context.Background(), cfg.Tracing(), cfg.Version)
		if err != nil {
			return nil, err
		}
		return &tracing{tracer: tracer, shutdown: shutdown}, nil
	})

	do.Provide(i, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		t, err := do.Invoke[*tracing](i)
		if err != nil {
			return nil, err
		}
		opts := []pubsub.BridgeOption{pubsub.WithLogger(do.MustInvoke[*slog.Logger](i))}
		if cfg.TracingEnabled {
			opts = append(opts, pubsub.WithTracer(t.tracer))
		}
		return pubsub.NewWatermillBridge(opts...), nil
	})

	do.Provide(i, func(i do.Injector) (*pubsub.Relay, error) {
		return pubsub.NewRelay(
			do.MustInvoke[*pubsub.WatermillBridge](i),
			do.MustInvoke[*events.Bus](i),
			do.MustInvoke[*slog.Logger](i),
			do.MustInvoke[*metrics.Metrics](i),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*storage.Store, error) {
		return storage.Open(cfg.DBPath)
	})

	do.Provide(i, func(i do.Injector) (storage.BackupStore, error) {
		return storage.NewAferoBackups(afero.NewOsFs(), cfg.BackupDir), nil
	})

	do.Provide(i, func(i do.Injector) (*hub.Hub, error) {
		return hub.NewHub(do.MustInvoke[*metrics.Metrics](i)), nil
	})

	do.Provide(i, func(i do.Injector) (*browser.Memory, error) {
		return browser.NewMemory(do.MustInvoke[*hub.Hub](i).Deliver), nil
	})

	do.Provide(i, func(i do.Injector) (*engine.Memory, error) {
		return engine.NewMemory(
			do.MustInvoke[*pubsub.WatermillBridge](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*connection.Manager, error) {
		return connection.NewManager(
			do.MustInvoke[*events.Bus](i),
			connection.WithLogger(do.MustInvoke[*slog.Logger](i)),
			connection.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (module.Routers, error) {
		opts := func(name string) []router.Option {
			return []router.Option{
				router.WithName(name),
				router.WithLogger(do.MustInvoke[*slog.Logger](i)),
				router.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
			}
		}
		return module.Routers{
			Legacy: router.NewLegacy(opts("legacy")...),
			App:    router.NewRegistry(opts("app")...),
			Engine: router.NewRegistry(opts("engine")...),
		}, nil
	})

	do.Provide(i, func(i do.Injector) (*router.Demux, error) {
		r := do.MustInvoke[module.Routers](i)
		return router.NewDemux(r.Legacy, r.App, r.Engine,
			router.WithLogger(do.MustInvoke[*slog.Logger](i)),
			router.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*services.Set, error) {
		store, err := do.Invoke[*storage.Store](i)
		if err != nil {
			return nil, err
		}
		return services.New(Dependencies{
			Bus:     do.MustInvoke[*events.Bus](i),
			Engine:  do.MustInvoke[*engine.Memory](i),
			Tabs:    do.MustInvoke[*browser.Memory](i),
			Store:   store,
			Backups: do.MustInvoke[storage.BackupStore](i),
			Logger:  do.MustInvoke[*slog.Logger](i),
		}.services(cfg)), nil
	})

	do.Provide(i, func(i do.Injector) (*websocket.Bridge, error) {
		opts := []websocket.BridgeOption{websocket.WithSendBuffer(cfg.SendBuffer)}
		if len(cfg.AllowedOrigins) > 0 {
			opts = append(opts, websocket.WithOriginPatterns(cfg.AllowedOrigins...))
		}
		return websocket.NewBridge(do.MustInvoke[*connection.Manager](i), opts...), nil
	})

	do.Provide(i, func(i do.Injector) (*server.Server, error) {
		return server.New(server.Dependencies{
			Dispatcher:     do.MustInvoke[*router.Demux](i),
			Bridge:         do.MustInvoke[*websocket.Bridge](i),
			Hub:            do.MustInvoke[*hub.Hub](i),
			Tabs:           do.MustInvoke[*browser.Memory](i),
			Registry:       do.MustInvoke[*prometheus.Registry](i),
			RequestTimeout: cfg.RequestTimeout,
			AllowedOrigins: cfg.AllowedOrigins,
			Version:        cfg.Version,
		}), nil
	})
}
