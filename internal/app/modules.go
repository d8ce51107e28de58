package app

import (
	"log/slog"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/config"
	"github.com/nfrund/filterbridge/internal/engine"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/services"
	"github.com/nfrund/filterbridge/internal/storage"
)

// Dependencies holds the core services that are required by the application's modules.
type Dependencies struct {
	Bus     *events.Bus
	Engine  engine.Engine
	Tabs    browser.Tabs
	Store   *storage.Store
	Backups storage.BackupStore
	Logger  *slog.Logger
}

func (d Dependencies) services(cfg *config.Config) services.Deps {
	return services.Deps{
		Bus:      d.Bus,
		Engine:   d.Engine,
		Tabs:     d.Tabs,
		Store:    d.Store,
		Backups:  d.Backups,
		Logger:   d.Logger,
		Version:  cfg.Version,
		PagesURL: cfg.PagesURL,
	}
}

// NewModules returns every background service as a module, in boot order.
// This is the single source of truth for which services are enabled.
func NewModules(set *services.Set) []module.Module {
	return set.Modules()
}
