// Package logging constructs the slog loggers used across flowline and
// provides attribute helpers so call sites stay terse.
package logging
