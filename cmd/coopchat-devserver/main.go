package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coopchat/coopchat-client/internal/config"
	"github.com/coopchat/coopchat-client/internal/devserver"
	"github.com/coopchat/coopchat-client/internal/log"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "sqlite database path (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	bootLogger := log.New("info")
	cfg, path, err := config.Load(bootLogger, *configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.DevServer.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DevServer.DatabasePath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := devserver.New(cfg.DevServer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dev server")
	}

	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dev server exited with error")
	}
	logger.Info().Msg("dev server stopped")
}
