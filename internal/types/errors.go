// internal/types/errors.go
package types

import (
	"errors"
)

// Error kinds shared by every pipeline stage.
var (
	ErrAuth                = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedContent    = errors.New("malformed content")
	ErrStorage             = errors.New("storage error")
)

// Failure reasons recorded on FAILED runs.
const (
	ReasonUnauthorized        = "Unauthorized"
	ReasonNotFound            = "NotFound"
	ReasonUpstreamUnavailable = "UpstreamUnavailable"
	ReasonMalformedContent    = "MalformedContent"
	ReasonStorageError        = "StorageError"
	ReasonInternal            = "Internal"
)

// Error ties a cause to one of the error kinds above. errors.Is matches
// both the kind and anything in the cause chain.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// Wrap returns err classified as kind. A nil err still produces an error
// so callers can report a bare kind.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason maps an error to the reason recorded on a failed run.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return ReasonUnauthorized
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		return ReasonUpstreamUnavailable
	case errors.Is(err, ErrMalformedContent):
		return ReasonMalformedContent
	case errors.Is(err, ErrStorage):
		return ReasonStorageError
	default:
		return ReasonInternal
	}
}
