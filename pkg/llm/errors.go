package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// ErrorKind classifies a failure regardless of which backend produced it.
type ErrorKind string

const (
	// Client/config failures, never retryable.
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindInvalidConfig       ErrorKind = "invalid_config"
	KindAuthenticationError ErrorKind = "authentication_error"
	KindAuthorizationError  ErrorKind = "authorization_error"
	KindProviderNotFound    ErrorKind = "provider_not_found"
	KindModelNotFound       ErrorKind = "model_not_found"
	KindUnsupportedFeature  ErrorKind = "unsupported_feature"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"

	// Backend/network failures, retryable.
	KindRateLimited     ErrorKind = "rate_limited"
	KindTimeout         ErrorKind = "timeout"
	KindConnectionError ErrorKind = "connection_error"
	KindServerError     ErrorKind = "server_error"

	// Response-shape failures.
	KindInvalidResponse ErrorKind = "invalid_response"
	KindStreamingError  ErrorKind = "streaming_error"
	KindContentFiltered ErrorKind = "content_filtered"

	// Local saturation (thread/queue limits), retryable.
	KindResourceExhausted ErrorKind = "resource_exhausted"

	// Anything that fits no other kind.
	KindProviderError ErrorKind = "provider_error"
)

// ErrorRecord is the backend-agnostic error container carried on the
// blocking path as the returned error and on the streaming path as the
// terminal chunk, never both.
type ErrorRecord struct {
	Kind              ErrorKind `json:"kind"`
	Message           string    `json:"message"`
	Provider          string    `json:"provider,omitempty"`
	HTTPStatus        int       `json:"http_status,omitempty"`
	ProviderCode      string    `json:"provider_code,omitempty"`
	Retryable         bool      `json:"retryable"`
	RetryAfterSeconds *float64  `json:"retry_after_seconds,omitempty"`

	Cause error `json:"-"`
}

func (e *ErrorRecord) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider != "" {
		return fmt.Sprintf("llm %s: %s", e.Provider, msg)
	}
	return fmt.Sprintf("llm: %s", msg)
}

func (e *ErrorRecord) Unwrap() error { return e.Cause }

// AsErrorRecord extracts an *ErrorRecord from an error chain.
func AsErrorRecord(err error) (*ErrorRecord, bool) {
	var rec *ErrorRecord
	if errors.As(err, &rec) {
		return rec, true
	}
	return nil, false
}

// Errorf builds an ErrorRecord with a formatted message. Retryability
// follows the kind's default.
func Errorf(kind ErrorKind, format string, args ...any) *ErrorRecord {
	return &ErrorRecord{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: kindRetryable(kind),
	}
}

func kindRetryable(kind ErrorKind) bool {
	switch kind {
	case KindRateLimited, KindTimeout, KindConnectionError, KindServerError, KindResourceExhausted:
		return true
	default:
		return false
	}
}

// quotaCodes are the structured error codes backends use to signal a hard
// quota rather than a transient rate limit. The discriminator is the
// machine-readable code field, not prose in the message body.
var quotaCodes = map[string]bool{
	"insufficient_quota":         true,
	"quota_exceeded":             true,
	"billing_hard_limit_reached": true,
	"billing_not_active":         true,
}

// ClassifyStatus maps an HTTP status (and error body) to an ErrorKind and
// retryability. Every adapter applies this mapping uniformly; it is pure
// and idempotent.
func ClassifyStatus(status int, body []byte) (ErrorKind, bool) {
	switch status {
	case http.StatusBadRequest:
		return KindInvalidRequest, false
	case http.StatusUnauthorized:
		return KindAuthenticationError, false
	case http.StatusForbidden:
		return KindAuthorizationError, false
	case http.StatusNotFound:
		return KindModelNotFound, false
	case http.StatusRequestTimeout:
		return KindTimeout, true
	case http.StatusTooManyRequests:
		if quotaCodes[errorCode(body)] {
			return KindQuotaExceeded, false
		}
		return KindRateLimited, true
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServerError, true
	default:
		return KindProviderError, status >= 500
	}
}

// StatusFromKind is the reverse mapping used when rendering an ErrorRecord
// back onto an HTTP surface.
func StatusFromKind(kind ErrorKind) int {
	switch kind {
	case KindInvalidRequest, KindInvalidConfig, KindUnsupportedFeature:
		return http.StatusBadRequest
	case KindAuthenticationError:
		return http.StatusUnauthorized
	case KindAuthorizationError:
		return http.StatusForbidden
	case KindProviderNotFound, KindModelNotFound:
		return http.StatusNotFound
	case KindRateLimited, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// ErrorFromResponse builds an ErrorRecord for a non-2xx backend response.
// Message and code come from the backend's error envelope when present.
func ErrorFromResponse(provider string, status int, header http.Header, body []byte) *ErrorRecord {
	kind, retryable := ClassifyStatus(status, body)
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ErrorRecord{
		Kind:              kind,
		Message:           msg,
		Provider:          provider,
		HTTPStatus:        status,
		ProviderCode:      errorCode(body),
		Retryable:         retryable,
		RetryAfterSeconds: RetryAfterFromHeader(header),
	}
}

// errorMessage pulls the human-readable message out of the common error
// envelopes ({"error":{"message":...}} and {"error":"..."}).
func errorMessage(body []byte) string {
	if v := gjson.GetBytes(body, "error.message"); v.Exists() {
		return v.String()
	}
	if v := gjson.GetBytes(body, "error"); v.Type == gjson.String {
		return v.String()
	}
	return gjson.GetBytes(body, "message").String()
}

// errorCode pulls the machine-readable code, trying the field names the
// major backends use (code, type).
func errorCode(body []byte) string {
	for _, path := range []string{"error.code", "error.type", "type"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// RetryAfterFromHeader parses a Retry-After header in either delta-seconds
// or HTTP-date form. Returns nil when absent or unparsable.
func RetryAfterFromHeader(header http.Header) *float64 {
	raw := header.Get("Retry-After")
	if raw == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
		return &secs
	}
	if at, err := http.ParseTime(raw); err == nil {
		secs := time.Until(at).Seconds()
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}
