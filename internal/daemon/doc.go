// Package daemon wires the broker, stores and consumers into one
// supervised process and serves the read/health HTTP API. Broker
// reconnects run in a background task so liveness probes keep answering
// while connectivity is being re-established.
package daemon
