// cmd/discord/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/keshon/behavior-sim/internal/app"
	"github.com/keshon/behavior-sim/internal/config"
	"github.com/keshon/behavior-sim/internal/discord"
	"github.com/keshon/behavior-sim/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	config.LoadDotEnv()
	cfg, err := config.New()
	if err == nil {
		err = cfg.RequireDiscord()
	}
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
		Service:    "discord",
	})
	if err != nil {
		zerolog.New(os.Stderr).Error().Err(err).Msg("init logging")
		return 1
	}
	defer logCloser.Close()

	logger.Info().Msg("starting discord bot")

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

	bot := discord.New(a.Engine, discord.Options{
		HistorySize:   cfg.HistorySize,
		Explicit:      cfg.Explicit,
		RatePerSecond: cfg.RateLimit,
		Burst:         cfg.RateBurst,
		Timeout:       cfg.RequestTimeout,
		CacheDir:      filepath.Join(filepath.Dir(cfg.StoragePath), "commands"),
		Logger:        logger,
	})
	if err := bot.Run(ctx, cfg.DiscordToken); err != nil {
		logger.Error().Err(err).Msg("discord bot error")
		return 1
	}
	logger.Info().Msg("discord bot exited cleanly")
	return 0
}
