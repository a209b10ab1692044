package jobs

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidTransition = errors.New("invalid transition")
)

// ValidationError is a bad or missing input field. Never retried.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// CapacityError means the global concurrent-job ceiling is reached.
type CapacityError struct {
	Active     int
	Limit      int
	RetryAfter time.Duration
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("server at capacity (%d/%d active jobs)", e.Active, e.Limit)
}

// QuotaError carries enough structure for a client to show a countdown.
type QuotaError struct {
	Limit     int64
	Remaining int64
	ResetsAt  time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("hourly download limit of %d reached", e.Limit)
}

// StoreError wraps an infrastructure fault so callers can retry later.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
