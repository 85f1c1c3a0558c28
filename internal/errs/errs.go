// Package errs defines the control plane's error taxonomy. Every error that
// crosses a component boundary (adapter, registry, deploy, mission) is
// converted into one of the Kinds below so callers can branch on category
// instead of sentinel values.
package errs

import "fmt"

// Kind is a categorical error classification, not a type identifier.
type Kind string

const (
	ConfigInvalid      Kind = "ConfigInvalid"
	BackendUnreachable Kind = "BackendUnreachable"
	AuthFailed         Kind = "AuthFailed"
	ResourceMissing    Kind = "ResourceMissing"
	NameCollision      Kind = "NameCollision"
	QuotaExceeded      Kind = "QuotaExceeded"
	TransitionBusy     Kind = "TransitionBusy"
	Timeout            Kind = "Timeout"
	PoolExhausted      Kind = "PoolExhausted"
	DriftDetected      Kind = "DriftDetected"
	IncompatibleOS     Kind = "IncompatibleOS"
	CancelRequested    Kind = "CancelRequested"
	Internal           Kind = "Internal"
)

// Recoverable reports whether the enclosing task should retry with backoff
// rather than abort immediately, per the propagation policy.
func (k Kind) Recoverable() bool {
	switch k {
	case BackendUnreachable, TransitionBusy:
		return true
	default:
		return false
	}
}

// Error is the control plane's structured error: a kind, a human message,
// the offending resource identity when known, a correlation id matching a
// log line, and an optional wrapped cause.
type Error struct {
	Kind          Kind
	Message       string
	ResourceID    string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithResource attaches the offending resource identity.
func (e *Error) WithResource(id string) *Error {
	e.ResourceID = id
	return e
}

// WithCorrelation attaches the correlation id matching a log line.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal for anything
// not produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As walks err's Unwrap chain for an *Error, like errors.As but without
// importing the standard errors package. Only single-error Unwrap chains
// are followed.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
