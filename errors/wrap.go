package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds context to err while keeping its code. Context errors map
// to TIMEOUT and CANCELED; other foreign errors become INTERNAL.
// Returns nil if err is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		wrapped := &Error{
			code:       se.code,
			category:   se.category,
			message:    message,
			cause:      err,
			retryable:  se.retryable,
			metadata:   se.Metadata(),
			agentID:    se.agentID,
			taskID:     se.taskID,
			proposalID: se.proposalID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	opts = append(opts, WithCause(err))
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(ErrCodeTimeout, message, opts...)
	case errors.Is(err, context.Canceled):
		return New(ErrCodeCanceled, message, opts...)
	default:
		return New(ErrCodeInternal, message, opts...)
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under a specific code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// As extracts the first *Error in the chain, or nil.
func As(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is reports whether the first *Error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	if se := As(err); se != nil {
		return se.code == code
	}
	return false
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	if se := As(err); se != nil {
		return se.Retryable()
	}
	return false
}

// Code extracts the error code, or "" for foreign errors.
func Code(err error) ErrorCode {
	if se := As(err); se != nil {
		return se.code
	}
	return ""
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}, opts ...Option) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	opts = append(opts, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
	return New(ErrCodePanic, message, opts...)
}
