// Package service implements the queue domain: ticket issuance, queue
// position computation, faculty load counters and the after-hours
// cancellation policy. Every mutation runs inside a single database
// transaction so counters can never drift from the ticket state they
// describe.
package service

import (
	"errors"
	"fmt"
)

// ValidationError reports a request that can never succeed as given
// (missing concern, faculty unavailable, duplicate active ticket).
// It must not be retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NotFoundError reports that a referenced person or faculty does not
// exist in the directory.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// TransientError reports a store-level failure that is safe to retry
// with backoff: the service already retries transaction conflicts a
// bounded number of times and wraps the final failure in this type.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient store failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
