// Package retry wraps remote calls with bounded retries, jittered backoff,
// and a shared concurrency/rate-limited call queue that honors
// server-directed rate limit pauses.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals an explicit "rate limited" response from a remote
// service, carrying the server-specified delay before calls may resume.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every attempt failed. It wraps the last
// attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: Do surfaces it immediately instead
// of burning attempts. Used for refusals and malformed responses.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
