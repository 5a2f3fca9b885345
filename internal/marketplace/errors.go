package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error taxonomy surfaced to callers. Callers classify with errors.Is.
var (
	// ErrRateLimited means the marketplace throttled us; back off and retry.
	ErrRateLimited = errors.New("marketplace: rate limited")

	// ErrNotFound means the listing no longer exists (removed or delisted).
	ErrNotFound = errors.New("marketplace: listing not found")

	// ErrAuthExpired means the request credential was rejected; re-sign and
	// retry once.
	ErrAuthExpired = errors.New("marketplace: auth expired")

	// ErrMalformedResponse means the response could not be parsed. Permanent
	// for the call; usually a sign of upstream format drift.
	ErrMalformedResponse = errors.New("marketplace: malformed response")
)

// classifyStatus maps an HTTP status code onto the error taxonomy
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthExpired
	default:
		return fmt.Errorf("marketplace: unexpected status %d", status)
	}
}

// IsPermanent reports whether an error should not be retried
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformedResponse)
}

// IsTransient reports whether an error is worth a bounded retry
func IsTransient(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
