// Command flowlined runs the flowline daemon: it connects to the broker,
// consumes pipeline lifecycle and execution events into the content
// store, evaluates notification triggers, and serves the read/health API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowline/internal/config"
	"flowline/internal/daemon"
	"flowline/internal/logging"
	"flowline/internal/notifystore"
	"flowline/internal/storage"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configFlag); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logger, err := logging.NewFromBasics(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	retryInterval := time.Duration(cfg.Broker.RetryIntervalSeconds) * time.Second

	store, err := storage.OpenWithRetry(ctx, cfg.StorageDatabasePath(), cfg.Storage.MaxOpenConns, cfg.Broker.ConnectRetries, retryInterval)
	if err != nil {
		return fmt.Errorf("open content store: %w", err)
	}

	configs, err := notifystore.OpenWithRetry(ctx, cfg.NotifyDatabasePath(), cfg.Broker.ConnectRetries, retryInterval)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open notification-config store: %w", err)
	}

	d, err := daemon.New(cfg, store, configs, logger)
	if err != nil {
		_ = store.Close()
		_ = configs.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-ctx.Done()
	logger.Info("flowlined shutting down")
	return nil
}
