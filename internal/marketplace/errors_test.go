package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	assert.ErrorIs(t, classifyStatus(http.StatusTooManyRequests), ErrRateLimited)
	assert.ErrorIs(t, classifyStatus(http.StatusNotFound), ErrNotFound)
	assert.ErrorIs(t, classifyStatus(http.StatusGone), ErrNotFound)
	assert.ErrorIs(t, classifyStatus(http.StatusUnauthorized), ErrAuthExpired)
	assert.ErrorIs(t, classifyStatus(http.StatusForbidden), ErrAuthExpired)
	assert.EqualError(t, classifyStatus(http.StatusBadGateway), "marketplace: unexpected status 502")
}

func TestErrorClasses(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("GET x: %w", ErrNotFound)))
	assert.True(t, IsPermanent(ErrMalformedResponse))
	assert.False(t, IsPermanent(ErrRateLimited))

	assert.True(t, IsTransient(ErrRateLimited))
	assert.True(t, IsTransient(fmt.Errorf("fetch: %w", context.DeadlineExceeded)))
	assert.False(t, IsTransient(ErrNotFound))
}
