package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid order")

	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrRejected           = errors.New("order rejected")

	// ErrQuoteUnavailable means the price oracle could not produce a usable
	// quote. It is transient: callers may retry.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrClockUnavailable means the market clock could not be consulted.
	ErrClockUnavailable = errors.New("market clock unavailable")

	// ErrConflict is a lock or isolation failure in the ledger store. The
	// store retries it; it only escapes once retries are exhausted.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrSweepInProgress is returned when a sweep is requested while another
	// is still running.
	ErrSweepInProgress = errors.New("sweep already in progress")
)

// ValidationError describes a malformed order request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
