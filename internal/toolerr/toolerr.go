// Package toolerr defines the error taxonomy of the tool-dispatch pipeline.
//
// Every layer returns plain Go errors. The dispatcher classifies them into a
// Kind with KindOf and is the only place that renders them for callers.
package toolerr

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/kouba/internal/store"
)

// Kind identifies where and why a call was rejected.
type Kind string

const (
	KindMissingCredential   Kind = "missing_credential"
	KindInvalidCredential   Kind = "invalid_credential"
	KindRateLimited         Kind = "rate_limited"
	KindTenantBindingFailed Kind = "tenant_binding_failed"
	KindForbidden           Kind = "forbidden"
	KindUnknownTool         Kind = "unknown_tool"
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindDatabase            Kind = "database_error"
	KindInternal            Kind = "internal_error"
)

// Error is a classified pipeline error. Message is safe to show to callers;
// Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind with a formatted caller-facing message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind that keeps err as its cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation is shorthand for a KindValidation error.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// NotFound is shorthand for a KindNotFound error.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id), Err: store.ErrNotFound}
}

// KindOf classifies err. Typed errors keep their kind, storage sentinels map
// onto not_found and database_error, and everything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, store.ErrNotFound) {
		return KindNotFound
	}
	var dbErr *store.DatabaseError
	if errors.As(err, &dbErr) {
		return KindDatabase
	}
	return KindInternal
}

// Message returns the caller-facing text for err, prefixed by its kind.
// Internal errors are not echoed verbatim.
func Message(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Error()
	}
	switch kind := KindOf(err); kind {
	case KindNotFound, KindDatabase:
		return string(kind) + ": " + err.Error()
	default:
		return string(KindInternal) + ": internal error"
	}
}
