package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"flowline/internal/broker"
	"flowline/internal/config"
	"flowline/internal/logging"
	"flowline/internal/notify"
	"flowline/internal/notifystore"
	"flowline/internal/router"
	"flowline/internal/storage"
)

// Daemon coordinates the consumers and enforces single-instance execution.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	manager     *broker.Manager
	router      *router.Router
	store       *storage.Store
	configs     *notifystore.Store
	notify      *notify.Service
	storageSubs *storage.EventHandler

	lockPath string
	lock     *flock.Flock

	api     *apiServer
	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *storage.Store, configs *notifystore.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || configs == nil || logger == nil {
		return nil, errors.New("daemon requires config, stores and logger")
	}

	manager := broker.NewManager(cfg.Broker, logger)
	lockPath := filepath.Join(cfg.Paths.DataDir, "flowlined.lock")

	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		manager:     manager,
		router:      router.New(manager, logger),
		store:       store,
		configs:     configs,
		notify:      notify.NewService(cfg.Notify, configs, logger),
		storageSubs: storage.NewEventHandler(store, logger),
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}
	d.api = newAPIServer(cfg.Paths.APIBind, d, logger)
	return d, nil
}

// Start acquires the daemon lock, brings the HTTP API up so probes can
// answer immediately, registers subscriptions and connects to the broker.
// Broker connection failure after the retry budget is fatal: the process
// must not pretend to consume events it cannot receive.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another flowline daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.api.start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		return err
	}

	if err := d.registerSubscriptions(runCtx); err != nil {
		d.api.stop()
		d.releaseLock()
		cancel()
		return err
	}

	if err := d.manager.Connect(runCtx); err != nil {
		d.api.stop()
		d.releaseLock()
		cancel()
		return fmt.Errorf("connect broker: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("flowline daemon started", logging.String("lock", d.lockPath))
	return nil
}

// registerSubscriptions declares the consumer topology: lifecycle and
// execution events into the content store, execution events into the
// trigger evaluator. Registration happens before Connect so topology is
// declared as part of the first successful dial.
func (d *Daemon) registerSubscriptions(ctx context.Context) error {
	b := d.cfg.Broker

	subs := []router.Subscription{
		{
			Exchange: b.Exchange,
			Patterns: []string{b.ConfigCreatedKey, b.ConfigDeletedKey},
			Queue:    b.ConfigQueue,
			Handlers: map[string]router.Handler{
				b.ConfigCreatedKey: d.storageSubs.HandleCreated,
				b.ConfigDeletedKey: d.storageSubs.HandleDeleted,
			},
		},
		{
			Exchange: b.Exchange,
			Patterns: []string{b.ExecutionSuccessKey},
			Queue:    b.ExecutionQueue,
			Handlers: map[string]router.Handler{
				b.ExecutionSuccessKey: d.storageSubs.HandleExecution,
			},
		},
		{
			Exchange: b.Exchange,
			Patterns: []string{b.ExecutionSuccessKey},
			Queue:    b.NotifyQueue,
			Handlers: map[string]router.Handler{
				b.ExecutionSuccessKey: d.notify.HandleExecution,
			},
		},
	}

	for _, sub := range subs {
		if err := d.router.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("subscribe queue %q: %w", sub.Queue, err)
		}
	}
	return nil
}

// Publish routes an event through the configured exchange. Used by the
// CLI publish command and integration scenarios.
func (d *Daemon) Publish(ctx context.Context, routingKey string, body []byte, messageID string) error {
	return d.router.Publish(ctx, d.cfg.Broker.Exchange, routingKey, body, messageID)
}

// Ready reports whether the subscription topology is established.
func (d *Daemon) Ready() bool {
	return d.manager.Ready()
}

// Stop stops accepting deliveries, lets in-flight handlers finish and
// closes the connection cleanly.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.manager.Close(); err != nil {
		d.logger.Warn("close broker connection", logging.Error(err))
	}
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("flowline daemon stopped")
}

// Close releases all resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.configs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
