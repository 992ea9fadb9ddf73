package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind categorizes why a provider request failed. Callers distinguish
// kinds with errors.Is against the sentinel errors below.
type ErrorKind string

const (
	KindAPIKeyNotFound    ErrorKind = "api_key_not_found"
	KindInvalidResponse   ErrorKind = "invalid_response"
	KindRateLimitExceeded ErrorKind = "rate_limit_exceeded"
	KindNetwork           ErrorKind = "network_error"
	KindProvider          ErrorKind = "provider_error"
)

var (
	// ErrAPIKeyNotFound means the credential for a provider is missing or empty.
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrInvalidResponse means the backend answered with a body that does not
	// match its documented schema.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrRateLimitExceeded is returned for HTTP 429.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrNetwork covers transport failures and timeouts.
	ErrNetwork = errors.New("network error")
	// ErrProvider covers every other non-2xx answer.
	ErrProvider = errors.New("provider error")
)

var kindSentinels = map[ErrorKind]error{
	KindAPIKeyNotFound:    ErrAPIKeyNotFound,
	KindInvalidResponse:   ErrInvalidResponse,
	KindRateLimitExceeded: ErrRateLimitExceeded,
	KindNetwork:           ErrNetwork,
	KindProvider:          ErrProvider,
}

// Retryable reports whether retrying may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimitExceeded || k == KindNetwork
}

// ProviderError is a structured error from an LLM backend.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Model    string
	// Status is the HTTP status code, if any.
	Status int
	// Code is the provider-specific error code or type.
	Code string
	// Detail is the human readable message from the backend.
	Detail    string
	RequestID string
	// RetryAfterHint comes from the Retry-After header on 429 responses.
	RetryAfterHint time.Duration
	Cause          error
}

// NewProviderError creates a ProviderError of the given kind.
func NewProviderError(kind ErrorKind, provider, model string, cause error) *ProviderError {
	e := &ProviderError{Kind: kind, Provider: provider, Model: model, Cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Kind)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind.
func (e *ProviderError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// RetryAfter implements backoff.RetryAfterer.
func (e *ProviderError) RetryAfter() time.Duration {
	return e.RetryAfterHint
}

// WithStatus records the HTTP status and reclassifies the error.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Kind = classifyStatusCode(status)
	return e
}

// WithCode adds a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	return e
}

// WithDetail sets the human readable message.
func (e *ProviderError) WithDetail(detail string) *ProviderError {
	e.Detail = detail
	return e
}

func classifyStatusCode(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimitExceeded
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindNetwork
	default:
		return KindProvider
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether a request that failed with err may be retried.
// 5xx answers are retried as well as rate limits and transport failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if pe, ok := GetProviderError(err); ok {
		return pe.Kind.Retryable() || pe.Status >= 500
	}
	return false
}

// ErrorKindOf returns the kind of a provider error, or "" for other errors.
func ErrorKindOf(err error) ErrorKind {
	if pe, ok := GetProviderError(err); ok {
		return pe.Kind
	}
	return ""
}

// statusError builds the error for a non-2xx answer, pulling the message and
// code out of the common {"error":{"message","type","code"}} body shapes.
func statusError(provider, model string, resp *http.Response, body []byte) *ProviderError {
	pe := NewProviderError(KindProvider, provider, model, nil).WithStatus(resp.StatusCode)
	pe.RequestID = firstHeader(resp.Header, "x-request-id", "request-id")
	if resp.StatusCode == http.StatusTooManyRequests {
		pe.RetryAfterHint = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	detail, code := errorBodyDetail(body)
	if detail == "" {
		detail = strings.TrimSpace(string(body))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
	}
	pe.Detail = detail
	pe.Code = code
	return pe
}

func errorBodyDetail(body []byte) (string, string) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil || len(envelope.Error) == 0 {
		return "", ""
	}
	var asString string
	if json.Unmarshal(envelope.Error, &asString) == nil {
		return asString, ""
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
		Code    any    `json:"code"`
	}
	if json.Unmarshal(envelope.Error, &obj) != nil {
		return "", ""
	}
	code := obj.Type
	if code == "" {
		code = obj.Status
	}
	if code == "" && obj.Code != nil {
		code = fmt.Sprint(obj.Code)
	}
	return obj.Message, code
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func firstHeader(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// networkError wraps a transport failure. Timeouts keep their cause so
// callers can still match context.DeadlineExceeded.
func networkError(provider, model string, err error) *ProviderError {
	pe := NewProviderError(KindNetwork, provider, model, err)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		pe.Code = "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = "timeout"
	}
	return pe
}

func invalidResponse(provider, model string, format string, args ...any) *ProviderError {
	return NewProviderError(KindInvalidResponse, provider, model, fmt.Errorf(format, args...))
}

func missingAPIKey(provider string) *ProviderError {
	return NewProviderError(KindAPIKeyNotFound, provider, "", fmt.Errorf("no API key configured for %s", provider))
}
