package router

import (
	"errors"

	"flowline/internal/events"
)

// permanentError marks a handler failure that redelivery cannot fix.
// The consumer loop acks and drops the message instead of requeueing it.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consumer loop treats it as unrecoverable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is unrecoverable: explicitly wrapped
// with Permanent, or a malformed-payload decode failure.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm) || errors.Is(err, events.ErrMalformed)
}
