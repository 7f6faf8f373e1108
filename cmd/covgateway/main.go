// Package main implements the entry point for the covgateway BACnet
// presence gateway: it turns a durable event-store log into a live
// BACnet/IP device with Change-of-Value notification support.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/covgateway/gateway/config"
	"github.com/covgateway/gateway/httpapi"
	"github.com/covgateway/gateway/pipeline"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "covgateway"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	supervisor, err := pipeline.NewSupervisor(cfg, logger)
	if err != nil {
		return fmt.Errorf("construct pipeline: %w", err)
	}

	httpServer := httpapi.NewServer(
		cfg.Health,
		supervisor.ComponentManager(),
		supervisor.MetricsRegistry().PrometheusRegistry(),
		supervisor.PushHub(),
		logger,
	)
	if err := supervisor.ComponentManager().Register("http-api", httpServer); err != nil {
		return fmt.Errorf("register http surface: %w", err)
	}

	return runWithSignalHandling(context.Background(), supervisor, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging.
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("starting covgateway", "version", Version, "build_time", BuildTime, "config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// runWithSignalHandling starts every registered component, blocks until
// SIGINT or SIGTERM, then stops everything in reverse registration order.
func runWithSignalHandling(ctx context.Context, supervisor *pipeline.Supervisor, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := supervisor.Start(signalCtx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	slog.Info("covgateway ready")

	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	if err := supervisor.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	slog.Info("covgateway shutdown complete")
	return nil
}
