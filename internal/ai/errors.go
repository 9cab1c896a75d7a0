package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNoProvider means no embedding provider is enabled. Callers treat it as
// an expected "not configured" state.
var ErrNoProvider = errors.New("no embedding provider enabled")

// ConfigurationError is raised for missing credentials, unknown models or
// dimension mismatches. It is never retried.
type ConfigurationError struct {
	Provider string
	Msg      string
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// RateLimitError is raised when the backend throttles us.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: rate limited", e.Provider)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// APIError covers transport failures and non-success responses.
type APIError struct {
	Provider   string
	StatusCode int
	Msg        string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: api error", e.Provider)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newConfigError(provider, format string, args ...interface{}) error {
	return &ConfigurationError{Provider: provider, Msg: fmt.Sprintf(format, args...)}
}

func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func IsRateLimit(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil || IsConfiguration(err) || errors.Is(err, ErrNoProvider) {
		return false
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// classifyStatus maps an HTTP failure onto the error taxonomy.
func classifyStatus(provider string, status int, header http.Header, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		body = body[:512]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, RetryAfter: parseRetryAfter(header), Err: errors.New(body)}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &ConfigurationError{Provider: provider, Msg: "credential rejected", Err: errors.New(body)}
	case status == http.StatusNotFound:
		return &ConfigurationError{Provider: provider, Msg: "model or endpoint not found", Err: errors.New(body)}
	default:
		return &APIError{Provider: provider, StatusCode: status, Msg: body}
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
