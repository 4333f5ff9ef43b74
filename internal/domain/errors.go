package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the gateway's failure taxonomy. The first four are
// retryable: the failover loop absorbs them by rotating credentials. The
// remaining ones are terminal for the whole request.
var (
	ErrNetwork     = fmt.Errorf("network failure")
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrServerError = fmt.Errorf("provider internal error")
	ErrAuthInvalid = fmt.Errorf("authentication failed")

	ErrRejected      = fmt.Errorf("request rejected by provider")
	ErrKeysExhausted = fmt.Errorf("all credentials exhausted")

	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrBioNotFound      = fmt.Errorf("user bio not found")
	ErrMemoryNotFound   = fmt.Errorf("memory entry not found")
)

// IsRetryable reports whether err may succeed on another credential.
// Retryable errors never surface to the chat layer.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrAuthInvalid)
}

// RateLimitError wraps ErrRateLimit with the provider-suggested retry-after
// duration, when the provider reported one.
type RateLimitError struct {
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s: %s", ErrRateLimit, e.RetryAfter, e.Detail)
	}
	return fmt.Sprintf("%s: %s", ErrRateLimit, e.Detail)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimit }

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Failover.Generate")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNetwork          ErrorCode = "NETWORK"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeServerError      ErrorCode = "SERVER_ERROR"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeRejected         ErrorCode = "REJECTED"
	CodeKeysExhausted    ErrorCode = "KEYS_EXHAUSTED"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNetwork:          CodeNetwork,
	ErrRateLimit:        CodeRateLimit,
	ErrServerError:      CodeServerError,
	ErrAuthInvalid:      CodeAuthInvalid,
	ErrRejected:         CodeRejected,
	ErrKeysExhausted:    CodeKeysExhausted,
	ErrProviderNotFound: CodeProviderNotFound,
	ErrConfigLoad:       CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It walks the error chain with errors.Is and returns CodeUnknown when no
// sentinel matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
