package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	retryable := []error{ErrNetwork, ErrRateLimit, ErrServerError, ErrAuthInvalid}
	for _, err := range retryable {
		assert.True(t, IsRetryable(err), "%v", err)
		assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", err)), "wrapped %v", err)
	}

	terminal := []error{ErrRejected, ErrKeysExhausted, ErrProviderNotFound, errors.New("mystery")}
	for _, err := range terminal {
		assert.False(t, IsRetryable(err), "%v", err)
	}
}

func TestRateLimitErrorUnwrapsToSentinel(t *testing.T) {
	err := &RateLimitError{RetryAfter: 30 * time.Second, Detail: "slow down"}

	assert.ErrorIs(t, err, ErrRateLimit)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "30s")

	var rle *RateLimitError
	assert.ErrorAs(t, fmt.Errorf("attempt 1: %w", err), &rle)
	assert.Equal(t, 30*time.Second, rle.RetryAfter)
}

func TestDomainErrorWrapping(t *testing.T) {
	err := NewDomainError("Gateway.Converse", ErrKeysExhausted, "all slots cooling")

	assert.ErrorIs(t, err, ErrKeysExhausted)
	assert.Contains(t, err.Error(), "Gateway.Converse")
	assert.Contains(t, err.Error(), "all slots cooling")
}

func TestWrapOpNilPassthrough(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	assert.ErrorIs(t, WrapOp("op", ErrRejected), ErrRejected)
}

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{ErrNetwork, CodeNetwork},
		{fmt.Errorf("x: %w", ErrRateLimit), CodeRateLimit},
		{&RateLimitError{Detail: "x"}, CodeRateLimit},
		{NewDomainError("op", ErrKeysExhausted, ""), CodeKeysExhausted},
		{errors.New("mystery"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorCodeOf(tc.err))
	}
}
