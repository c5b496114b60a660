// Package testsupport provides per-test configuration and store builders.
package testsupport

import (
	"path/filepath"
	"testing"

	"flowline/internal/config"
	"flowline/internal/notifystore"
	"flowline/internal/storage"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Broker.ConnectRetries = 1
	cfg.Broker.RetryIntervalSeconds = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithBrokerURL overrides the broker URL on the test config.
func WithBrokerURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Broker.URL = url
	}
}

// MustOpenStorage opens a content store in the test data directory and
// closes it when the test finishes.
func MustOpenStorage(t testing.TB, cfg *config.Config) *storage.Store {
	t.Helper()
	store, err := storage.Open(cfg.StorageDatabasePath(), cfg.Storage.MaxOpenConns)
	if err != nil {
		t.Fatalf("open storage store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close storage store: %v", err)
		}
	})
	return store
}

// MustOpenNotifyStore opens a notification-config store in the test data
// directory and closes it when the test finishes.
func MustOpenNotifyStore(t testing.TB, cfg *config.Config) *notifystore.Store {
	t.Helper()
	store, err := notifystore.Open(cfg.NotifyDatabasePath())
	if err != nil {
		t.Fatalf("open notify store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close notify store: %v", err)
		}
	})
	return store
}
