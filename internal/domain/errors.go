package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrQueueEmpty     = errors.New("no job available")
	ErrDuplicate      = errors.New("duplicate submission")
	ErrNotRunning     = errors.New("worker runtime is not running")
	ErrAlreadyRunning = errors.New("worker runtime is already running")
)

// Classified is implemented by errors that carry a retry decision for the
// queue's retry/backoff policy.
type Classified interface {
	error
	Retryable() bool
}

// Retryable reports whether the error (anywhere in the chain) is marked
// retryable. Unclassified errors default to retryable so transient
// infrastructure failures get the benefit of the retry budget.
func Retryable(err error) bool {
	var c Classified
	if errors.As(err, &c) {
		return c.Retryable()
	}
	return true
}

// ValidationError marks a malformed job payload. Fatal, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
	}
	return "validation failed: " + e.Reason
}

func (e *ValidationError) Retryable() bool { return false }

// CapacityError rejects a submission because the queue is full. Fatal to
// the submission, not to the system.
type CapacityError struct {
	CurrentSize int
	Limit       int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("queue is at capacity: %d of %d jobs", e.CurrentSize, e.Limit)
}

func (e *CapacityError) Retryable() bool { return false }

// TimeoutError marks a job that overran its execution deadline. Always
// retryable so the surrounding policy treats it like any transient failure.
type TimeoutError struct {
	JobID   string
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s (limit %s)", e.JobID, e.Elapsed, e.Timeout)
}

func (e *TimeoutError) Retryable() bool { return true }

// ExternalServiceSubtype classifies failures of the generation service.
type ExternalServiceSubtype string

const (
	ExternalAuth       ExternalServiceSubtype = "auth"
	ExternalValidation ExternalServiceSubtype = "validation"
	ExternalRateLimit  ExternalServiceSubtype = "rate_limit"
	ExternalServer     ExternalServiceSubtype = "server"
	ExternalNetwork    ExternalServiceSubtype = "network"
	ExternalTimeout    ExternalServiceSubtype = "timeout"
	ExternalFailed     ExternalServiceSubtype = "generation_failed"
)

// ExternalServiceError wraps a failure from the generation API. Whether it
// is retryable depends on the subtype: auth and validation failures and a
// remote job the provider declared failed are final, everything else is
// transient.
type ExternalServiceError struct {
	Subtype ExternalServiceSubtype
	Status  int
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("generation service %s error (http %d): %v", e.Subtype, e.Status, e.Err)
	}
	return fmt.Sprintf("generation service %s error: %v", e.Subtype, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Retryable() bool {
	switch e.Subtype {
	case ExternalAuth, ExternalValidation, ExternalFailed:
		return false
	default:
		return true
	}
}

// CacheError marks a cache tier failure. Never fatal: readers treat it as
// a miss, writers as a no-op, and it is logged rather than propagated.
type CacheError struct {
	Tier string
	Op   string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s failed: %v", e.Tier, e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func (e *CacheError) Retryable() bool { return true }
