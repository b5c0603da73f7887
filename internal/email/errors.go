package email

import (
	"context"
	"errors"
)

// DeliveryError describes a failed send. Transient failures (timeouts,
// network errors, 429 and 5xx responses) may be retried; everything else is
// permanent.
type DeliveryError struct {
	StatusCode int
	Auth       bool
	Transient  bool
	Message    string
	Err        error
}

func (e *DeliveryError) Error() string { return e.Message }

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var dErr *DeliveryError
	return errors.As(err, &dErr) && dErr.Transient
}

// IsAuth reports whether err was caused by a rejected credential.
func IsAuth(err error) bool {
	var dErr *DeliveryError
	return errors.As(err, &dErr) && dErr.Auth
}
