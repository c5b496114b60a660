package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Broker contains the AMQP connection and topology configuration. Exchange,
// queue and routing-key names are deployment concerns and never hardcoded.
type Broker struct {
	URL                  string `toml:"url"`
	ConnectRetries       int    `toml:"connect_retries"`
	RetryIntervalSeconds int    `toml:"retry_interval_seconds"`

	Exchange            string `toml:"exchange"`
	ConfigCreatedKey    string `toml:"config_created_key"`
	ConfigDeletedKey    string `toml:"config_deleted_key"`
	ExecutionSuccessKey string `toml:"execution_success_key"`

	ConfigQueue    string `toml:"config_queue"`
	ExecutionQueue string `toml:"execution_queue"`
	NotifyQueue    string `toml:"notify_queue"`
}

// Storage contains content-store database settings.
type Storage struct {
	DatabaseFile string `toml:"database_file"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// Notify contains trigger-evaluation and sender settings.
type Notify struct {
	DatabaseFile         string  `toml:"database_file"`
	EvalTimeoutMillis    int     `toml:"eval_timeout_millis"`
	SenderTimeoutSeconds int     `toml:"sender_timeout_seconds"`
	DispatchRatePerSec   float64 `toml:"dispatch_rate_per_sec"`
	DispatchBurst        int     `toml:"dispatch_burst"`
	SlackBaseURL         string  `toml:"slack_base_url"`
	FCMBaseURL           string  `toml:"fcm_base_url"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for flowline.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Broker  Broker  `toml:"broker"`
	Storage Storage `toml:"storage"`
	Notify  Notify  `toml:"notify"`
	Logging Logging `toml:"logging"`
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/flowline/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("flowline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorageDatabasePath returns the absolute path of the content-store database.
func (c *Config) StorageDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, c.Storage.DatabaseFile)
}

// NotifyDatabasePath returns the absolute path of the notification-config database.
func (c *Config) NotifyDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, c.Notify.DatabaseFile)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			trimmed = home
		} else if strings.HasPrefix(trimmed, "~/") {
			trimmed = filepath.Join(home, trimmed[2:])
		}
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return abs, nil
}
