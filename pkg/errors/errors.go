package errors

import (
	"errors"
	"fmt"
)

// The pipeline's failure taxonomy. Validation and transform failures are
// permanent by construction: redelivering malformed input cannot fix it.
// Store and ledger infrastructure failures default to retryable.
var (
	ErrValidation       = NewError("VALIDATION_ERROR", "payload failed schema validation")
	ErrTransform        = NewError("TRANSFORM_ERROR", "record failed normalization")
	ErrStoreRejected    = NewError("STORE_REJECTED", "store rejected the record")
	ErrStoreUnavailable = NewError("STORE_UNAVAILABLE", "store is unavailable")
	ErrLedgerConflict   = NewError("LEDGER_CONFLICT", "identity is in flight elsewhere")
	ErrTimeout          = NewError("TIMEOUT", "operation timed out")
	ErrInternal         = NewError("INTERNAL_ERROR", "internal error")
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// NewValidationError builds a permanent validation failure for one field.
func NewValidationError(field, reason string) *Error {
	return ErrValidation.
		WithDetail("field", field).
		WithDetail("reason", reason).
		AsFatal()
}

// NewTransformError builds a permanent normalization failure for one field.
func NewTransformError(field, reason string) *Error {
	return ErrTransform.
		WithDetail("field", field).
		WithDetail("reason", reason).
		AsFatal()
}

func (e *Error) Error() string {
	msg := e.Message
	if reason, ok := e.Details["reason"].(string); ok && reason != "" {
		if field, ok := e.Details["field"].(string); ok && field != "" {
			msg = fmt.Sprintf("%s: field %q: %s", e.Message, field, reason)
		} else {
			msg = fmt.Sprintf("%s: %s", e.Message, reason)
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return e.Code != ErrValidation.Code &&
		e.Code != ErrTransform.Code &&
		e.Code != ErrStoreRejected.Code
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}
	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}
	return e.Code == ErrValidation.Code ||
		e.Code == ErrTransform.Code ||
		e.Code == ErrStoreRejected.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func IsValidation(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrValidation.Code
	}
	return false
}

func IsTransform(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == ErrTransform.Code
	}
	return false
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	var fatalErr FatalError
	if errors.As(err, &fatalErr) {
		return fatalErr.IsFatal()
	}
	return false
}

// Code extracts the taxonomy code from err, or UNKNOWN for foreign errors.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}
