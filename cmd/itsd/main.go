// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command itsd runs the camera test harness daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/itsd/internal/config"
	"github.com/ManuGH/itsd/internal/daemon"
	xglog "github.com/ManuGH/itsd/internal/log"
	"github.com/ManuGH/itsd/internal/version"
)

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("itsd", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML); defaults to $ITSD_CONFIG")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if *showVersion {
		fmt.Println(version.String())
		return exitOK
	}

	xglog.Configure(xglog.Config{
		Service: daemon.ServiceName,
		Version: version.Version,
	})
	logger := xglog.WithComponent("main")

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(config.EnvConfigPath))
	}

	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str(xglog.FieldPath, path).
			Msg("failed to load configuration")
		return exitConfig
	}
	if err := xglog.SetLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		logger.Warn().Err(err).Msg("invalid log level, keeping default")
	}

	source := "defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, path).
		Str("version", version.String()).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := daemon.Bootstrap(ctx, cfg, config.NewHolder(cfg, loader))
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.bootstrap_failed").Msg("failed to initialize daemon")
		return exitRuntime
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		return exitRuntime
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.exit").Msg("itsd stopped")
	return exitOK
}
