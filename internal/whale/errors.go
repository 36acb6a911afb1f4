package whale

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by a non-blocking enqueue when the queue is
	// at capacity. The producer drops the event rather than block.
	ErrQueueFull = errors.New("work queue is full")

	// ErrQueueClosed is returned by queue operations after shutdown.
	ErrQueueClosed = errors.New("work queue is closed")

	// ErrDuplicateAlert reports a uniqueness violation at insert time: the
	// record already exists and no second row was written.
	ErrDuplicateAlert = errors.New("alert with this fingerprint already exists")

	// ErrFingerprintExhausted reports that collision resolution ran out of
	// attempts. Permanent for the event.
	ErrFingerprintExhausted = errors.New("fingerprint space exhausted")

	// ErrRateLimited marks an extraction-service rate limit. Retryable.
	ErrRateLimited = errors.New("extraction service rate limited")

	// ErrTransient marks a transient extraction-service failure. Retryable.
	ErrTransient = errors.New("extraction service transient failure")

	// ErrMalformedOutput marks model output that failed decoding or schema
	// validation. Retryable: a re-ask can produce well-formed output.
	ErrMalformedOutput = errors.New("malformed extraction output")

	// ErrPermanent marks a failure that retrying cannot fix, such as a
	// request the extraction service rejected outright.
	ErrPermanent = errors.New("permanent extraction failure")
)

// IsRetryable reports whether the parser should retry after err. Everything
// is retryable up to the attempt cap except cancellation and the permanent
// pipeline conditions.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrFingerprintExhausted) || errors.Is(err, ErrDuplicateAlert) || errors.Is(err, ErrPermanent) {
		return false
	}
	return true
}
