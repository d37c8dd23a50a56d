// Package apperr defines the application-wide error taxonomy and the
// sanitisation rules applied before an error reaches a client or a log line.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind is one of the recognised error kinds. It drives both the HTTP
// status mapping and the retryable flag of the error envelope.
type Kind string

const (
	KindBadRequest        Kind = "bad_request"
	KindUnauthorized       Kind = "unauthorized"
	KindInsufficientCredit Kind = "insufficient_credits"
	KindBlocked            Kind = "blocked"
	KindNotFound           Kind = "not_found"
	KindNotReady           Kind = "not_ready"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindRateLimited        Kind = "rate_limit_exceeded"
	KindServerError        Kind = "server_error"
	KindQueueUnavailable   Kind = "queue_unavailable"
)

// statusByKind maps each Kind to its HTTP status code.
var statusByKind = map[Kind]int{
	KindBadRequest:         http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindInsufficientCredit: http.StatusPaymentRequired,
	KindBlocked:            http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindNotReady:           http.StatusConflict,
	KindPayloadTooLarge:    http.StatusRequestEntityTooLarge,
	KindRateLimited:        http.StatusTooManyRequests,
	KindServerError:        http.StatusInternalServerError,
	KindQueueUnavailable:   http.StatusServiceUnavailable,
}

// retryableKinds are the kinds whose envelope carries retryable: true.
var retryableKinds = map[Kind]bool{
	KindServerError:      true,
	KindQueueUnavailable: true,
	KindRateLimited:      true,
}

// Error is the application's structured error type. It implements the
// huma.StatusError interface (GetStatus) so it can be returned directly
// from HTTP handlers.
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	DocsURL    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// GetStatus implements huma.StatusError.
func (e *Error) GetStatus() int {
	return StatusFor(e.Kind)
}

// Retryable reports whether clients should retry after this error.
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// StatusFor returns the HTTP status code for a Kind, defaulting to 500
// for unrecognised kinds.
func StatusFor(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error that carries an underlying cause, preserved for
// errors.Is/errors.As and for log detail (never surfaced verbatim to clients).
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithSuggestion attaches a user-facing suggestion and returns the receiver.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDocsURL attaches a documentation link and returns the receiver.
func (e *Error) WithDocsURL(url string) *Error {
	e.DocsURL = url
	return e
}

// As extracts an *Error from err, falling back to a generic server_error
// wrapper when err is not already one of ours.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindServerError, Message: "an unexpected error occurred", Cause: err}
}

// Envelope is the wire shape of every JSON error response.
type Envelope struct {
	Success bool          `json:"success"`
	Error   EnvelopeError `json:"error"`
}

// EnvelopeError is the nested error object within Envelope.
type EnvelopeError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	DocsURL    string `json:"docs_url,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// NewEnvelope builds the response envelope for an error, sanitising the
// message before it is ever serialised.
func NewEnvelope(err error, requestID string) Envelope {
	appErr := As(err)
	return Envelope{
		Success: false,
		Error: EnvelopeError{
			Code:       string(appErr.Kind),
			Message:    Sanitize(appErr.Message),
			Suggestion: appErr.Suggestion,
			DocsURL:    appErr.DocsURL,
			RequestID:  requestID,
			Retryable:  appErr.Retryable(),
		},
	}
}

var (
	filePathPattern  = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	bearerPattern    = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-._~+/]+=*`)
	providerKeyPattern = regexp.MustCompile(`\b(sk|pk|rk)[-_][a-zA-Z0-9]{10,}\b`)
)

// Sanitize strips file paths, email addresses, bearer tokens, and
// provider-key-looking substrings from a message before it is logged
// or surfaced to a client.
func Sanitize(msg string) string {
	msg = bearerPattern.ReplaceAllString(msg, "[REDACTED_TOKEN]")
	msg = providerKeyPattern.ReplaceAllString(msg, "[REDACTED_KEY]")
	msg = emailPattern.ReplaceAllString(msg, "[REDACTED_EMAIL]")
	msg = filePathPattern.ReplaceAllString(msg, "[REDACTED_PATH]")
	return msg
}
