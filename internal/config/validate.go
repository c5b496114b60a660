package config

import (
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBroker() error {
	if !strings.HasPrefix(c.Broker.URL, "amqp://") && !strings.HasPrefix(c.Broker.URL, "amqps://") {
		return fmt.Errorf("broker.url must be an amqp:// or amqps:// URL, got %q", c.Broker.URL)
	}
	queues := map[string]string{
		"broker.config_queue":    c.Broker.ConfigQueue,
		"broker.execution_queue": c.Broker.ExecutionQueue,
		"broker.notify_queue":    c.Broker.NotifyQueue,
	}
	seen := map[string]string{}
	for field, name := range queues {
		if name == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		if other, dup := seen[name]; dup {
			return fmt.Errorf("%s and %s must not share queue name %q", field, other, name)
		}
		seen[name] = field
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotify() error {
	if c.Notify.EvalTimeoutMillis > 60_000 {
		return fmt.Errorf("notify.eval_timeout_millis must be at most 60000, got %d", c.Notify.EvalTimeoutMillis)
	}
	return nil
}
