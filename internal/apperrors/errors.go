// Package apperrors defines the closed error taxonomy for refresh runs.
// Every failure a refresh can hit maps onto exactly one kind, so the
// recovery path is keyed on kind instead of string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the recoverable failure categories.
type Kind string

const (
	// KindNetwork covers DNS, connect and transport failures.
	KindNetwork Kind = "network"
	// KindTimeout covers deadline-exceeded failures on outbound fetches.
	KindTimeout Kind = "timeout"
	// KindHTTPStatus covers non-2xx responses from a source.
	KindHTTPStatus Kind = "http_status"
	// KindNotFound means a structural anchor was missing from the page,
	// usually because the site layout changed.
	KindNotFound Kind = "extraction_not_found"
	// KindParseFailure means the anchor was found but the value inside it
	// could not be parsed.
	KindParseFailure Kind = "extraction_parse"
	// KindInsufficientData means the P2P sample contained no valid prices.
	// Callers keep the previous value rather than treating this as fatal.
	KindInsufficientData Kind = "insufficient_data"
	// KindPersistence covers store read/write failures.
	KindPersistence Kind = "persistence"
)

// Error wraps an underlying error with a kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a kind-classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a kind-classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err, or the empty Kind when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
