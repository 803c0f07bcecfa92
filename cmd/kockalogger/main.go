package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/KockaAdmiralac/kockalogger/internal/cache"
	"github.com/KockaAdmiralac/kockalogger/internal/config"
	"github.com/KockaAdmiralac/kockalogger/internal/decoder"
	"github.com/KockaAdmiralac/kockalogger/internal/dispatcher"
	"github.com/KockaAdmiralac/kockalogger/internal/fetcher"
	"github.com/KockaAdmiralac/kockalogger/internal/irc"
	"github.com/KockaAdmiralac/kockalogger/internal/loader"
	"github.com/KockaAdmiralac/kockalogger/internal/mediawiki"
	"github.com/KockaAdmiralac/kockalogger/internal/metrics"
	"github.com/KockaAdmiralac/kockalogger/internal/models"
	"github.com/KockaAdmiralac/kockalogger/internal/modules"
	"github.com/KockaAdmiralac/kockalogger/internal/parser"

	// Modules self-register.
	_ "github.com/KockaAdmiralac/kockalogger/internal/modules/activity"
	_ "github.com/KockaAdmiralac/kockalogger/internal/modules/newusers"
	_ "github.com/KockaAdmiralac/kockalogger/internal/modules/relay"
	_ "github.com/KockaAdmiralac/kockalogger/internal/modules/vandalism"
)

const drainTimeout = 60 * time.Second

func main() {
	var configPath string
	var fetch bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&fetch, "fetch", false, "Rebuild the message cache from the API even if a disk copy exists")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := initLogger(cfg)
	logger.Info().Str("config", configPath).Msg("Starting KockaLogger")

	metrics.InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dispatched messages outlive the feed context: enrichment started
	// before shutdown keeps running until the dispatcher drains.
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()

	api := mediawiki.NewClient(logger, nil)

	// Message cache: load from disk or rebuild from the API.
	l := loader.New(api, cfg.Cache.Dir, cfg.Log.Debug, logger)
	msgCache, err := l.Run(ctx, fetch)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build message cache")
	}

	enrichment, err := cache.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Str("code", models.CodeNoRedis).Err(err).Msg("Redis is unavailable")
	}
	defer enrichment.Close()

	// Module instantiation from configuration.
	var mods []modules.Module
	for name, node := range cfg.Modules {
		mod, err := modules.New(name)
		if err != nil {
			logger.Fatal().Err(err).Msg("Unknown module in configuration")
		}
		env := &modules.Env{
			Logger:   logger,
			Config:   &node,
			Messages: msgCache,
			Cache:    enrichment,
		}
		if err := mod.Setup(env); err != nil {
			logger.Fatal().Err(err).Str("module", name).Msg("Module setup failed")
		}
		mods = append(mods, mod)
		logger.Info().Str("module", name).Msg("Module initialized")
	}

	f := fetcher.New(api, l, logger)
	disp := dispatcher.New(mods, f, api, enrichment, logger)
	dec := decoder.New(parser.New(msgCache, logger), logger, func(msg *models.Message) {
		disp.Dispatch(dispatchCtx, msg)
	})
	client := irc.New(cfg.Client, dec, logger)

	var metricsServer *metrics.Server
	if port := *cfg.Metrics.Port; port > 0 {
		metricsServer = metrics.NewServer(port, func() map[string]bool {
			return map[string]bool{
				"irc":   client.Healthy(),
				"redis": enrichment.Ping(dispatchCtx) == nil,
			}
		}, logger)
		metricsServer.Start()
	}

	ircDone := make(chan error, 1)
	go func() {
		ircDone <- client.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-ircDone:
		if err != nil {
			logger.Error().Err(err).Msg("Feed connection lost for good")
		}
	}

	// A second signal during shutdown is acknowledged but shutdown still
	// completes; pending relays would otherwise be lost.
	go func() {
		sig := <-sigChan
		logger.Warn().Str("signal", sig.String()).Msg("Already shutting down")
	}()

	cancel()
	dec.Flush()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := disp.Drain(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("Dispatcher drain timed out")
	}
	dispatchCancel()

	for _, mod := range mods {
		if err := mod.Kill(); err != nil {
			logger.Error().Err(err).Str("module", mod.Name()).Msg("Module shutdown failed")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(drainCtx); err != nil {
			logger.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	logger.Info().Msg("KockaLogger shutdown complete")
}

// initLogger builds the process logger: pretty console on stdout plus a JSON
// log file, per configuration.
func initLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Log.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Log.Stdout {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
	}
	if cfg.Log.File {
		if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
			log.Fatal().Err(err).Msg("Failed to create log directory")
		}
		file, err := os.OpenFile(
			filepath.Join(cfg.Log.Dir, "kockalogger.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open log file")
		}
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("service", "kockalogger").
		Logger()
}
