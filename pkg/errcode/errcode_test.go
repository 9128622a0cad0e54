package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		err := New(RateLimited, "slow down")
		assert.Equal(t, RateLimited, CodeOf(err))
	})

	t.Run("wrapped typed error", func(t *testing.T) {
		inner := New(ToolTimeout, "deadline")
		err := fmt.Errorf("step failed: %w", inner)
		assert.Equal(t, ToolTimeout, CodeOf(err))
	})

	t.Run("plain error reports internal", func(t *testing.T) {
		assert.Equal(t, Internal, CodeOf(errors.New("boom")))
	})
}

func TestRetryableDefaults(t *testing.T) {
	retryable := []Code{ToolTimeout, UpstreamUnavail, ConnectionError, RateLimited, ExecuteTimeout}
	for _, code := range retryable {
		assert.True(t, IsRetryable(New(code, "x")), "code %s should be retryable", code)
	}

	terminal := []Code{PolicyDeny, SQLBlocked, TenantMismatch, ValidationFailed, PlanInvalid}
	for _, code := range terminal {
		assert.False(t, IsRetryable(New(code, "x")), "code %s should not be retryable", code)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ConnectionError, "dial failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "CONNECTION_ERROR")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithRetryableOverride(t *testing.T) {
	err := New(Internal, "transient blip").WithRetryable(true)
	assert.True(t, IsRetryable(err))
}

func TestIsCode(t *testing.T) {
	err := Newf(QueryNotFound, "no query for %s", "ci_search")
	assert.True(t, IsCode(err, QueryNotFound))
	assert.False(t, IsCode(err, NotFound))
}
