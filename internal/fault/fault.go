// Package fault defines the error taxonomy shared by all core components.
//
// NotFound and Expired are part of the normal read contract: tiers handle
// them locally and callers fall through to the next tier. Conflict, the
// external errors and ValidationError are surfaced as typed values so the
// router can map them to user-facing outcomes.
package fault

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means no record, session or rule matched.
	ErrNotFound = errors.New("not found")

	// ErrExpired marks a record whose deadline has passed. Read paths treat
	// it exactly like ErrNotFound; the distinct value exists for logging.
	ErrExpired = errors.New("expired")

	// ErrConflict means a concurrent update won the race. The confidence
	// resolver retries once with fresh reads before surfacing it.
	ErrConflict = errors.New("conflict")

	// ErrValidation marks a malformed record rejected at write time.
	ErrValidation = errors.New("validation failed")
)

// IsAbsent reports whether err is NotFound or Expired — the two errors every
// read path treats as "no value".
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}

// TimeoutError is returned when an external call exceeds the caller's
// deadline. The core never retries; retry policy belongs to the caller.
type TimeoutError struct {
	Op       string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Deadline)
}

// IsTimeout reports whether err wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ExternalError wraps a failure reported by the LLM or an external tool.
type ExternalError struct {
	Tool string
	Err  error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external %s: %v", e.Tool, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// Validation builds an ErrValidation with a reason.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
