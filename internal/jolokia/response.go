package jolokia

import (
	"fmt"
	"time"
)

// ErrorKind classifies every failure the bridge layer can produce.
type ErrorKind string

const (
	// KindNone marks a successful response.
	KindNone ErrorKind = ""
	// KindMissingCredentials: no username or password supplied; no call was made.
	KindMissingCredentials ErrorKind = "missing_credentials"
	// KindNetworkError: transport failure (refused, timeout, DNS, TLS).
	KindNetworkError ErrorKind = "network_error"
	// KindMalformedResponse: the body could not be parsed as JSON.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindHTTPError: the bridge answered with a non-200 HTTP status.
	KindHTTPError ErrorKind = "http_error"
	// KindBridgeReportedFailure: HTTP 200 but the bridge payload itself
	// signals an operation failure.
	KindBridgeReportedFailure ErrorKind = "bridge_reported_failure"
	// KindNotAuthenticated: a tool-level precondition, raised before any call.
	KindNotAuthenticated ErrorKind = "not_authenticated"
	// KindInvalidParameter: a tool argument failed validation before any call.
	KindInvalidParameter ErrorKind = "invalid_parameter"
)

// Error is the typed failure carried through the core. Only the tool
// boundary renders it to a user-facing string.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a typed error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Response is the normalized result of one bridge call. It carries either
// a value or an error kind, never neither, and is immutable once returned.
type Response struct {
	// Status is the HTTP status of the reply, 0 if none was received.
	Status       int
	Value        any
	ErrorKind    ErrorKind
	ErrorMessage string
	Timestamp    time.Time
	Request      Request
}

// Failed reports whether the call produced an error of any kind.
func (r Response) Failed() bool {
	return r.ErrorKind != KindNone
}

// Err returns the response's failure as a typed error, or nil on success.
func (r Response) Err() *Error {
	if !r.Failed() {
		return nil
	}
	return &Error{Kind: r.ErrorKind, Message: r.ErrorMessage}
}
