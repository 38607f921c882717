// Package app assembles the store, cache, notifier and engine from config.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"siteline/internal/cache"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/notify"
	"siteline/internal/pgrepo"
	"siteline/internal/repo"
	"siteline/internal/store"
)

// App holds the wired components for one process.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Store  store.Store
	Seeder store.Seeder
	Events store.EventLog
	Engine engine.Engine

	closers []func()
}

// Open connects the configured backends. Callers must Close the result.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.openStore(ctx, workspace); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Cache.RedisAddr != "" {
		rdb := cache.NewClient(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		cached := cache.New(a.Store, rdb, cfg.Cache.TTL.Std(), logger.Named("cache"))
		a.Store = cached
		a.Seeder = cache.Seeder{Seeder: a.Seeder, Cache: cached}
		logger.Info("redis cache enabled", zap.String("addr", cfg.Cache.RedisAddr))
	}

	n, closeNotify, err := notify.New(cfg.Notify.AMQPURL, cfg.Notify.Exchange, logger.Named("notify"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeNotify)

	a.Engine = engine.New(a.Store, cfg, n, logger.Named("engine"))
	return a, nil
}

func (a *App) openStore(ctx context.Context, workspace string) error {
	switch a.Config.Store.Driver {
	case "postgres":
		pool, err := pgrepo.Connect(ctx, a.Config.Store.DSN, a.Logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		r := pgrepo.NewRepo(pool, a.Logger.Named("pgrepo"))
		if err := r.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Store, a.Seeder, a.Events = r, r, r
	case "sqlite", "":
		conn, err := db.Open(db.Config{Workspace: workspace, DSN: a.Config.Store.DSN})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		version, err := migrate.Migrate(ctx, conn)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.Logger.Debug("sqlite store ready", zap.String("path", db.Path(workspace)), zap.Int("schema_version", version))
		r := repo.Repo{DB: conn}
		a.Store, a.Seeder, a.Events = r, r, r
	default:
		return fmt.Errorf("unknown store driver %q", a.Config.Store.Driver)
	}
	return nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
