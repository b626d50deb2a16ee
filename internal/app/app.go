// Package app turns a Config into a running engine: tables, agent store,
// trigger log, consent store and the background jobs that maintain them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/keshon/behavior-sim/datastore"
	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/config"
	"github.com/keshon/behavior-sim/internal/engine"
	"github.com/keshon/behavior-sim/internal/safety"
	"github.com/keshon/behavior-sim/internal/storage"
	"github.com/keshon/behavior-sim/pkg/jobmgr"
)

const pingTimeout = 5 * time.Second

// App owns everything opened for the engine. Close releases it.
type App struct {
	Config *config.Config
	Engine *engine.Engine
	Jobs   *jobmgr.Manager
	Logger zerolog.Logger

	store    *storage.Storage
	triggers *storage.TriggerLog
	redis    *redis.Client
}

// Open builds the engine from cfg. Background jobs stop when ctx ends or on Close.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	override, err := cfg.TablesFS()
	if err != nil {
		return nil, err
	}
	tables, err := behavior.LoadTables(override)
	if err != nil {
		return nil, fmt.Errorf("load behavior tables: %w", err)
	}
	safetyCfg, err := safety.LoadConfig(override)
	if err != nil {
		return nil, fmt.Errorf("load safety tables: %w", err)
	}

	dsCfg := datastore.DefaultConfig(cfg.StoragePath)
	dsCfg.AutoSaveInterval = cfg.AutoSaveInterval
	dsCfg.BackupCount = cfg.BackupCount
	dsCfg.Logger = logger
	ds, err := datastore.NewWithConfig(dsCfg)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	a.store = storage.NewWithDataStore(ds)

	a.triggers, err = storage.OpenTriggerLog(cfg.TriggerLogPath, logger)
	if err != nil {
		return nil, err
	}

	var consent safety.ConsentStore
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		consent = safety.NewRedisConsentStore(a.redis, safety.RedisConsentConfig{Prefix: cfg.ConsentPrefix})
		logger.Info().Str("addr", cfg.RedisAddr).Msg("consent store: redis")
	} else {
		consent = safety.NewMemoryConsentStore()
		logger.Warn().Msg("consent store: memory, consents are lost on restart")
	}

	a.Engine, err = engine.New(engine.Options{
		Tables:     tables,
		Safety:     safetyCfg,
		Store:      a.store,
		TriggerLog: a.triggers,
		Consent:    consent,
		Logger:     logger,
		Workers:    cfg.Workers,
	})
	if err != nil {
		return nil, err
	}

	a.Jobs = jobmgr.NewManager(ctx, logger)
	if err := a.Jobs.Start("trigger-log-pruner", func(ctx context.Context) error {
		storage.RunPruner(ctx, a.triggers, a.store, cfg.PruneInterval, cfg.Retention)
		return nil
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Close stops the background jobs and closes the stores.
func (a *App) Close() error {
	if a.Jobs != nil {
		a.Jobs.StopAll()
	}
	var errs []error
	if a.triggers != nil {
		errs = append(errs, a.triggers.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
