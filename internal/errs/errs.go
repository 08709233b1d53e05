// Package errs defines the typed error taxonomy shared by connectors, the
// integration service, the queue and the webhook pipeline.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and reporting decisions.
type Kind string

const (
	KindConfiguration        Kind = "configuration"
	KindConnection           Kind = "connection"
	KindValidation           Kind = "validation"
	KindAuthentication       Kind = "authentication"
	KindUnsupportedOperation Kind = "unsupported_operation"
	KindUnsupportedConnector Kind = "unsupported_connector"
	KindTimeout              Kind = "timeout"
	KindNotFound             Kind = "not_found"
	KindInternal             Kind = "internal"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind, so errors.Is(err, errs.New(KindTimeout, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail attaches a key/value pair and returns the same error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns nil when cause is nil.
func Wrap(cause error, kind Kind, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Configuration(format string, args ...any) *Error {
	return Newf(KindConfiguration, format, args...)
}

func Connection(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

func Authentication(format string, args ...any) *Error {
	return Newf(KindAuthentication, format, args...)
}

func Timeout(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

// UnsupportedOperation reports a capability the connector type does not offer.
func UnsupportedOperation(connectorType, operation string) *Error {
	return Newf(KindUnsupportedOperation, "connector %s does not support %s", connectorType, operation).
		WithDetail("connectorType", connectorType).
		WithDetail("operation", operation)
}

func UnsupportedConnector(connectorType string) *Error {
	return Newf(KindUnsupportedConnector, "unsupported connector type %q", connectorType).
		WithDetail("connectorType", connectorType)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a failed job should be attempted again.
// Untyped errors are retried; the typed kinds that cannot heal on their own are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindConnection, KindTimeout, KindInternal:
		return true
	default:
		return false
	}
}
