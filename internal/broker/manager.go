package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"flowline/internal/config"
	"flowline/internal/logging"
)

// ErrNotConnected is returned when a channel is requested while the
// connection is down or being re-established.
var ErrNotConnected = errors.New("broker: not connected")

// SetupFunc declares topology or registers consumers on a fresh channel.
// It runs once after every successful connect, so it must be idempotent.
type SetupFunc func(ctx context.Context, ch *amqp.Channel) error

// Manager supervises one logical connection and its channel.
type Manager struct {
	url      string
	retries  int
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	setups  []SetupFunc
	applied int

	ready  atomic.Bool
	failed atomic.Bool

	dial func(url string) (*amqp.Connection, error)
}

// NewManager builds a manager from broker configuration. The connection
// is not dialed until Connect is called.
func NewManager(cfg config.Broker, logger *slog.Logger) *Manager {
	return &Manager{
		url:      cfg.URL,
		retries:  cfg.ConnectRetries,
		interval: time.Duration(cfg.RetryIntervalSeconds) * time.Second,
		logger:   logging.NewComponentLogger(logger, "broker"),
		dial:     amqp.Dial,
	}
}

// Connect dials the broker, retrying up to the configured attempt count
// with a fixed sleep between attempts. On success it applies all
// registered setup functions and starts watching for connection loss.
func (m *Manager) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.retries; attempt++ {
		conn, err := m.dial(m.url)
		if err == nil {
			if err := m.install(ctx, conn); err != nil {
				_ = conn.Close()
				lastErr = err
			} else {
				m.logger.Info("connected to broker", logging.Int("attempt", attempt))
				return nil
			}
		} else {
			lastErr = err
		}

		m.logger.Warn("broker connection failed",
			logging.Int("attempt", attempt),
			logging.Int("maxAttempts", m.retries),
			logging.Duration("retryIn", m.interval),
			logging.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.interval):
		}
	}

	m.failed.Store(true)
	return fmt.Errorf("broker: connection failed after %d attempts: %w", m.retries, lastErr)
}

func (m *Manager) install(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.ch = ch
	m.applied = 0
	m.mu.Unlock()

	if err := m.applySetups(ctx, ch); err != nil {
		return fmt.Errorf("apply topology: %w", err)
	}

	go m.watch(ctx, conn)
	return nil
}

// applySetups replays registered setup functions on the channel until
// none remain, then flips ready. The slice is re-checked under the lock
// each step so a Register racing with the replay is still picked up
// rather than silently deferred to the next reconnect.
func (m *Manager) applySetups(ctx context.Context, ch *amqp.Channel) error {
	for {
		m.mu.Lock()
		if m.applied == len(m.setups) {
			m.ready.Store(true)
			m.mu.Unlock()
			return nil
		}
		setup := m.setups[m.applied]
		m.applied++
		m.mu.Unlock()

		if err := setup(ctx, ch); err != nil {
			return err
		}
	}
}

// watch blocks until the connection drops, then runs the full retry
// procedure again. Consumers registered through Register are restored by
// the setup replay inside Connect.
func (m *Manager) watch(ctx context.Context, conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-ctx.Done():
		return
	case amqpErr := <-closed:
		m.ready.Store(false)
		if amqpErr != nil {
			m.logger.Warn("broker connection lost", logging.Error(amqpErr))
		}
	}

	if err := m.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("broker reconnect exhausted", logging.Error(err))
	}
}

// Register adds a setup function that declares topology or consumers.
// If a connection is already established, the function runs immediately;
// it also re-runs after every reconnect. A registration that lands while
// a connect is still replaying setups is applied by that replay.
func (m *Manager) Register(ctx context.Context, setup SetupFunc) error {
	m.mu.Lock()
	m.setups = append(m.setups, setup)
	ch := m.ch
	runNow := ch != nil && m.ready.Load()
	if runNow {
		m.applied = len(m.setups)
	}
	m.mu.Unlock()

	if !runNow {
		return nil
	}
	return setup(ctx, ch)
}

// Channel returns the live channel for publish operations.
func (m *Manager) Channel() (*amqp.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil || !m.ready.Load() {
		return nil, ErrNotConnected
	}
	return m.ch, nil
}

// Ready reports whether the subscription topology is currently
// established. Health checks use this without blocking on reconnects.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Failed reports that the retry budget was exhausted. The owning service
// treats this as fatal for consumer-dependent routes.
func (m *Manager) Failed() bool {
	return m.failed.Load()
}

// Close tears the connection down cleanly.
func (m *Manager) Close() error {
	m.ready.Store(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch != nil {
		_ = m.ch.Close()
		m.ch = nil
	}
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}
