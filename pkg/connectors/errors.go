package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisabled is returned when a send path is entered on a connector that is
// switched off or missing its credential. Callers are expected to check
// Enabled() before dispatching; this is the backstop.
var ErrDisabled = errors.New("connectors: connector disabled")

// PermanentError marks a failure that must not be retried: bad recipient,
// DMs forbidden, non-429 4xx responses.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable failure.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// RetryAfterError marks a rate-limit rejection carrying the server-provided
// wait hint (HTTP 429 Retry-After, Telegram retry_after, flood control).
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfterOf extracts the server wait hint, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	return 0, false
}
