package config

import (
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBroker()
	c.normalizeStorage()
	c.normalizeNotify()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(firstNonEmpty(c.Paths.DataDir, defaultDataDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(firstNonEmpty(c.Paths.LogDir, defaultLogDir)); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(firstNonEmpty(c.Paths.APIBind, defaultAPIBind))
	return nil
}

func (c *Config) normalizeBroker() {
	b := &c.Broker
	b.URL = strings.TrimSpace(firstNonEmpty(b.URL, defaultBrokerURL))
	if b.ConnectRetries <= 0 {
		b.ConnectRetries = defaultConnectRetries
	}
	if b.RetryIntervalSeconds <= 0 {
		b.RetryIntervalSeconds = defaultRetryIntervalSeconds
	}
	b.Exchange = strings.TrimSpace(firstNonEmpty(b.Exchange, defaultExchange))
	b.ConfigCreatedKey = strings.TrimSpace(firstNonEmpty(b.ConfigCreatedKey, defaultConfigCreatedKey))
	b.ConfigDeletedKey = strings.TrimSpace(firstNonEmpty(b.ConfigDeletedKey, defaultConfigDeletedKey))
	b.ExecutionSuccessKey = strings.TrimSpace(firstNonEmpty(b.ExecutionSuccessKey, defaultExecutionSuccessKey))
	b.ConfigQueue = strings.TrimSpace(firstNonEmpty(b.ConfigQueue, defaultConfigQueue))
	b.ExecutionQueue = strings.TrimSpace(firstNonEmpty(b.ExecutionQueue, defaultExecutionQueue))
	b.NotifyQueue = strings.TrimSpace(firstNonEmpty(b.NotifyQueue, defaultNotifyQueue))
}

func (c *Config) normalizeStorage() {
	if strings.TrimSpace(c.Storage.DatabaseFile) == "" {
		c.Storage.DatabaseFile = defaultStorageDatabaseFile
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = defaultStorageMaxOpenConns
	}
}

func (c *Config) normalizeNotify() {
	n := &c.Notify
	if strings.TrimSpace(n.DatabaseFile) == "" {
		n.DatabaseFile = defaultNotifyDatabaseFile
	}
	if n.EvalTimeoutMillis <= 0 {
		n.EvalTimeoutMillis = defaultEvalTimeoutMillis
	}
	if n.SenderTimeoutSeconds <= 0 {
		n.SenderTimeoutSeconds = defaultSenderTimeoutSecs
	}
	if n.DispatchRatePerSec <= 0 {
		n.DispatchRatePerSec = defaultDispatchRatePerSec
	}
	if n.DispatchBurst <= 0 {
		n.DispatchBurst = defaultDispatchBurst
	}
	n.SlackBaseURL = strings.TrimRight(strings.TrimSpace(firstNonEmpty(n.SlackBaseURL, defaultSlackBaseURL)), "/")
	n.FCMBaseURL = strings.TrimRight(strings.TrimSpace(firstNonEmpty(n.FCMBaseURL, defaultFCMBaseURL)), "/")
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Logging.Format, defaultLogFormat)))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(firstNonEmpty(c.Logging.Level, defaultLogLevel)))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
