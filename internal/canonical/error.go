package canonical

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrorKind is the canonical error taxonomy surfaced to callers as a turn's
// terminal result.
type ErrorKind string

const (
	ErrAuth           ErrorKind = "auth"
	ErrRateLimit      ErrorKind = "rate_limit"
	ErrInvalidRequest ErrorKind = "invalid_request"
	ErrAPI            ErrorKind = "api_error"
)

// Error is the single terminal failure shape a request can end in. There is
// no partial-success variant: a request either completes or reports one of
// these.
type Error struct {
	Kind              ErrorKind `json:"kind"`
	Message           string    `json:"message"`
	Retryable         bool      `json:"retryable"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MapHTTPError classifies an upstream HTTP failure into the canonical
// taxonomy. Anything outside the recognized statuses becomes api_error,
// retryable only for 5xx.
func MapHTTPError(status int, message string, header http.Header) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return &Error{Kind: ErrAuth, Message: message}
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:              ErrRateLimit,
			Message:           message,
			Retryable:         true,
			RetryAfterSeconds: retryAfterSeconds(header),
		}
	case status == http.StatusBadRequest,
		status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity:
		return &Error{Kind: ErrInvalidRequest, Message: message}
	default:
		return &Error{Kind: ErrAPI, Message: message, Retryable: status >= 500}
	}
}

// MapError wraps an error with no recognizable status code: api_error,
// not retryable, message verbatim.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}
	if cerr, ok := err.(*Error); ok {
		return cerr
	}
	return &Error{Kind: ErrAPI, Message: err.Error()}
}

func retryAfterSeconds(header http.Header) int {
	if header == nil {
		return 0
	}
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

// UnsupportedAttachmentError rejects a user-turn attachment whose mime type
// the target protocol does not accept. It names the allowed set rather than
// silently downgrading.
type UnsupportedAttachmentError struct {
	MimeType string
	Allowed  []string
}

func (e *UnsupportedAttachmentError) Error() string {
	return fmt.Sprintf("unsupported attachment type %q: allowed types are %s",
		e.MimeType, strings.Join(e.Allowed, ", "))
}

// ToolArgumentParseError records a tool call whose accumulated argument
// fragments failed to parse as JSON. The call is logged and dropped; the
// rest of the turn proceeds.
type ToolArgumentParseError struct {
	ToolCallID string
	ToolName   string
	Err        error
}

func (e *ToolArgumentParseError) Error() string {
	return fmt.Sprintf("tool call %s (%s): arguments are not valid JSON: %v",
		e.ToolCallID, e.ToolName, e.Err)
}

func (e *ToolArgumentParseError) Unwrap() error { return e.Err }

// ConversionError marks a malformed vendor payload that was recovered
// locally by a permissive or partial translation. Never fatal.
type ConversionError struct {
	Provider string
	Stage    string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s %s conversion: %v", e.Provider, e.Stage, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
