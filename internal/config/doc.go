// Package config loads, normalizes and validates the flowline TOML
// configuration. Broker topology names (exchange, queues, routing keys)
// live here so deployments can rename them without code changes.
package config
