// cmd/behaviord/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/behavior-sim/internal/api"
	"github.com/keshon/behavior-sim/internal/app"
	"github.com/keshon/behavior-sim/internal/config"
	"github.com/keshon/behavior-sim/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	config.LoadDotEnv()
	cfg, err := config.New()
	if err != nil {
		zerolog.New(os.Stderr).Error().Err(err).Msg("invalid configuration")
		return 1
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Service:    "behaviord",
	})
	if err != nil {
		zerolog.New(os.Stderr).Error().Err(err).Msg("init logging")
		return 1
	}
	defer logCloser.Close()

	logger.Info().Str("version", version).Msg("starting behavior daemon")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("open engine")
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("close engine")
		}
	}()

	srv := api.New(a.Engine, api.Options{
		Timeout:       cfg.RequestTimeout,
		RatePerSecond: cfg.RateLimit,
		Burst:         cfg.RateBurst,
		APIKey:        cfg.APIKey,
		Logger:        logger,
		Version:       version,
	})
	if err := a.Jobs.Start("rate-limit-sweeper", func(ctx context.Context) error {
		srv.SweepLimits(ctx, 10*time.Minute)
		return nil
	}); err != nil {
		logger.Error().Err(err).Msg("start sweeper")
		return 1
	}
	if cfg.APIKey == "" {
		logger.Warn().Msg("API_KEY is not set, the HTTP API is open")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.HTTPAddr)
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			code = 1
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
		code = 1
	}
	logger.Info().Msg("behavior daemon exited")
	return code
}
