package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for common provider failures.
var (
	// Safety/Content errors
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// Response errors
	ErrNoCandidates = errors.New("no candidates in response")

	// Authentication errors
	ErrAuthentication = errors.New("authentication failed")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorCode represents a provider error code.
type ErrorCode string

const (
	ErrorCodeContentBlocked ErrorCode = "content_blocked"
	ErrorCodeRateLimit      ErrorCode = "rate_limit"
	ErrorCodeAuth           ErrorCode = "authentication_failed"
	ErrorCodeNetwork        ErrorCode = "network_error"
	ErrorCodeUnavailable    ErrorCode = "service_unavailable"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
)

// ProviderError wraps an upstream failure with its HTTP status, when known.
type ProviderError struct {
	Code       ErrorCode
	Message    string
	Status     int // 0 when the failure never reached the server
	Underlying error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// HTTPStatus returns the upstream status code.
func (e *ProviderError) HTTPStatus() int {
	return e.Status
}

// TerminalQuotaError reports a quota that will not recover within the current
// billing period, such as an exhausted daily limit. Never retry it on the same model.
type TerminalQuotaError struct {
	Message    string
	Underlying error
}

func (e *TerminalQuotaError) Error() string {
	return "terminal quota exceeded: " + e.Message
}

func (e *TerminalQuotaError) Unwrap() error {
	return e.Underlying
}

// HTTPStatus is always 429.
func (e *TerminalQuotaError) HTTPStatus() int {
	return http.StatusTooManyRequests
}

// RetryableQuotaError reports rate or capacity throttling that should clear soon.
// RetryDelay is the server-suggested wait; zero means no suggestion.
type RetryableQuotaError struct {
	Message    string
	RetryDelay time.Duration
	Underlying error
}

func (e *RetryableQuotaError) Error() string {
	if e.RetryDelay > 0 {
		return fmt.Sprintf("retryable quota exceeded: %s (retry in %s)", e.Message, e.RetryDelay)
	}
	return "retryable quota exceeded: " + e.Message
}

func (e *RetryableQuotaError) Unwrap() error {
	return e.Underlying
}

// HTTPStatus is always 429.
func (e *RetryableQuotaError) HTTPStatus() int {
	return http.StatusTooManyRequests
}

type statusCoder interface {
	HTTPStatus() int
}

// StatusCode returns the HTTP status carried anywhere in err's chain.
func StatusCode(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// IsTerminalQuota reports whether err is or wraps a TerminalQuotaError.
func IsTerminalQuota(err error) bool {
	var q *TerminalQuotaError
	return errors.As(err, &q)
}

// IsRetryableQuota reports whether err is or wraps a RetryableQuotaError.
func IsRetryableQuota(err error) bool {
	var q *RetryableQuotaError
	return errors.As(err, &q)
}

// IsNetworkError reports whether err is a ProviderError for a request that
// never got a response.
func IsNetworkError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == ErrorCodeNetwork
}

// RetryDelay returns the server-suggested wait carried by a RetryableQuotaError.
func RetryDelay(err error) (time.Duration, bool) {
	var q *RetryableQuotaError
	if errors.As(err, &q) && q.RetryDelay > 0 {
		return q.RetryDelay, true
	}
	return 0, false
}
