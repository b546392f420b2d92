package core

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Kind classifies an error for callers that need to react to it (HTTP status, CLI exit, logging).
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
)

var kindNames = map[Kind]string{
	KindInternal:     "internal",
	KindNotFound:     "not_found",
	KindInvalidState: "invalid_state",
	KindValidation:   "validation_failed",
	KindConflict:     "conflict",
	KindUnauthorized: "unauthorized",
	KindForbidden:    "forbidden",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindInternal]
}

// Error is a domain error with a stable Kind. Packages declare their sentinels with NewError.
type Error struct {
	Kind Kind
	Msg  string
}

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	return e.Msg
}

// KindOf returns the Kind of the root cause of err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch e := errors.Cause(err).(type) {
	case nil:
		return KindInternal
	case *Error:
		return e.Kind
	case *ValidationError, validator.ValidationErrors:
		return KindValidation
	}
	return KindInternal
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return "validation failed"
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

// NewShutdownError returns an error that makes the API server stop gracefully once handled.
func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
