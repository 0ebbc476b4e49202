// cmd/server/main.go
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/keshon/young-ellens/internal/ai"
	"github.com/keshon/young-ellens/internal/config"
	"github.com/keshon/young-ellens/internal/gateway"
	"github.com/keshon/young-ellens/internal/memory"
	"github.com/keshon/young-ellens/internal/patterns"
	"github.com/keshon/young-ellens/internal/persona"
	"github.com/keshon/young-ellens/internal/scheduler"
	"github.com/keshon/young-ellens/internal/session"
	"github.com/keshon/young-ellens/internal/storage"
	v "github.com/keshon/young-ellens/internal/version"
)

func main() {
	cfg := config.New()
	logger := setupLogging(cfg)
	logger.Info().Str("action", "start").Str("app", v.AppName).Str("version", v.Version).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The datastore's Close blocks until ctx is cancelled; the shutdown
	// sequence below cancels before closing.
	store, err := storage.New(ctx, cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}

	lib, err := patterns.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("pattern library init failed")
	}

	rng := patterns.NewRand(time.Now().UnixNano())

	machine := persona.New(persona.DefaultConfig(), rng)
	mem := memory.NewStore(memory.DefaultConfig(), lib)

	limiter := ai.NewAdaptiveLimiter(2, 0.5, 10)
	pipe := ai.NewPipeline([]ai.Stage{
		{Label: "primary", Provider: ai.NewOpenAIProvider("openai", cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.ProviderTimeout), Remote: true},
		{Label: "secondary", Provider: ai.NewPollinationsProvider(cfg.ProviderTimeout), Remote: true},
		{Label: "fallback", Provider: ai.NewFallbackProvider(lib, rng)},
	}, limiter, cfg.ProviderTimeout, logger)

	sched := scheduler.New()

	sessCfg := session.DefaultConfig()
	sessCfg.IdleTimeout = cfg.IdleTimeout
	registry := session.NewRegistry(sessCfg, machine, mem, pipe, sched, scheduler.DefaultConfig(), store, lib, rng, logger)
	go registry.Run(ctx)

	gw := gateway.New(cfg.ListenAddr, registry, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := gw.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info().Str("action", "signal").Str("signal", s.String()).Msg("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("gateway error")
		}
		cancel()
	case <-ctx.Done():
	}

	registry.Shutdown()
	if err := store.Close(); err != nil {
		logger.Warn().Err(err).Msg("storage close failed")
	}
	logger.Info().Str("action", "exit").Msg("exited cleanly")
}

func setupLogging(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}}
	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogBackups,
			Compress:   cfg.LogCompress,
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
}
