// Package application wires the store, the event publisher and the import
// service from configuration. Both the server and the CLI start here.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/shelter/internal/config"
	"github.com/JonMunkholm/shelter/internal/core"
	"github.com/JonMunkholm/shelter/internal/events"
	"github.com/JonMunkholm/shelter/internal/store/memory"
	"github.com/JonMunkholm/shelter/internal/store/postgres"
)

// App holds the wired components.
type App struct {
	Service *core.Service
	Store   core.Store

	checks  map[string]func(context.Context) error
	closers []func()
}

// Open builds an App from cfg. A broker that cannot be reached is logged and
// replaced by the log publisher; a database that cannot be reached is fatal.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{checks: make(map[string]func(context.Context) error)}

	store, err := app.openStore(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	publisher := app.openPublisher(cfg, logger)

	app.Service = core.NewService(store, publisher, core.ServiceConfig{
		MaxFileSize: cfg.Import.MaxFileSize,
		MaxWaitTime: cfg.Import.MaxWaitTime,
		Timeout:     cfg.Import.Timeout,
		HistorySize: cfg.Import.HistorySize,
	})

	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Store, error) {
	if cfg.Database.InMemory() {
		logger.Warn("DATABASE_URL not set, using in-memory store; data is lost on exit")
		return memory.New(), nil
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	a.checks["database"] = pool.Ping

	store := postgres.New(pool)
	if cfg.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	logger.Info("connected to database", "database", pool.Config().ConnConfig.Database)
	return store, nil
}

func (a *App) openPublisher(cfg *config.Config, logger *slog.Logger) core.Publisher {
	if !cfg.Broker.Enabled() {
		return events.NewLogPublisher(logger)
	}

	pub, err := events.NewRabbitPublisher(events.RabbitConfig{
		URL:        cfg.Broker.URL,
		Exchange:   cfg.Broker.Exchange,
		RoutingKey: cfg.Broker.RoutingKey,
	}, logger)
	if err != nil {
		logger.Warn("broker unavailable, import events will only be logged", "error", err)
		return events.NewLogPublisher(logger)
	}

	a.closers = append(a.closers, func() { pub.Close() })
	a.checks["broker"] = func(context.Context) error {
		if !pub.Healthy() {
			return events.ErrBrokerUnavailable
		}
		return nil
	}
	return pub
}

// HealthChecks returns the dependency checks of the wired components.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	return a.checks
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
