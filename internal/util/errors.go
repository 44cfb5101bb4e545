package util

import (
	"fmt"
	"log/slog"
	"runtime"
)

// Kind classifies an AppError into the taxonomy the API layer maps to
// status codes and error envelopes.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindNotFound       Kind = "NotFound"
	KindConflict       Kind = "Conflict"
	KindRateLimited    Kind = "RateLimited"
	KindPayloadTooLarge Kind = "PayloadTooLarge"
	KindUnauthorized   Kind = "Unauthorized"
	KindInternal       Kind = "InternalError"
)

// AppError is a custom error type for adding context, a taxonomy kind, and
// a stack trace to errors crossing component boundaries.
type AppError struct {
	OriginalErr error
	Message     string
	Kind        Kind
	Stack       string
	Attrs       []slog.Attr
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.OriginalErr
}

const maxStackLength = 8192 // Max length of stack trace to capture

// NewError creates a new AppError without an original error. Kind defaults
// to KindInternal; use NewKindError to set it explicitly.
func NewError(message string, attrs ...slog.Attr) *AppError {
	return newAppError(nil, message, KindInternal, attrs...)
}

// NewKindError creates a new AppError of the given taxonomy kind.
func NewKindError(kind Kind, message string, attrs ...slog.Attr) *AppError {
	return newAppError(nil, message, kind, attrs...)
}

// WrapError creates a new AppError, wrapping an existing error. If err is
// already an *AppError, its Kind is preserved.
func WrapError(err error, message string, attrs ...slog.Attr) *AppError {
	kind := KindInternal
	if ae, ok := err.(*AppError); ok {
		kind = ae.Kind
	}
	return newAppError(err, message, kind, attrs...)
}

// WrapKindError wraps err as an AppError of the given kind, overriding any
// kind the wrapped error already carried.
func WrapKindError(kind Kind, err error, message string, attrs ...slog.Attr) *AppError {
	return newAppError(err, message, kind, attrs...)
}

func newAppError(originalErr error, message string, kind Kind, attrs ...slog.Attr) *AppError {
	buf := make([]byte, maxStackLength)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// If the original error is already an AppError, inherit its stack and
	// root cause but layer the new message and attributes on top.
	if ae, ok := originalErr.(*AppError); ok {
		combinedAttrs := append(ae.Attrs, attrs...) // later attrs take precedence, slog handles dupes

		newMessage := message
		if ae.Message != "" {
			newMessage = fmt.Sprintf("%s: %s", message, ae.Message)
		}

		return &AppError{
			OriginalErr: ae.OriginalErr,
			Message:     newMessage,
			Kind:        kind,
			Stack:       ae.Stack,
			Attrs:       combinedAttrs,
		}
	}

	return &AppError{
		OriginalErr: originalErr,
		Message:     message,
		Kind:        kind,
		Stack:       stack,
		Attrs:       attrs,
	}
}

// LogError logs an AppError with its structured context and stack trace.
// If the error is not an AppError, it logs it as a standard error message.
func LogError(logger *slog.Logger, err error) {
	if err == nil {
		return
	}

	var ae *AppError
	if asAe, ok := err.(*AppError); ok {
		ae = asAe
	} else if asWrapper, ok := err.(interface{ Unwrap() error }); ok {
		if unwrapped, okUnwrap := asWrapper.Unwrap().(*AppError); okUnwrap {
			ae = unwrapped
		}
	}

	if ae != nil {
		logAttrs := []any{
			slog.String("error_message", ae.Message),
			slog.String("kind", string(ae.Kind)),
		}
		if ae.OriginalErr != nil {
			logAttrs = append(logAttrs, slog.String("original_error", ae.OriginalErr.Error()))
		}
		logAttrs = append(logAttrs, slog.String("stack_trace", ae.Stack))
		for _, attr := range ae.Attrs {
			logAttrs = append(logAttrs, attr)
		}
		logger.Error("An error occurred", logAttrs...)
	} else {
		logger.Error("An error occurred", slog.String("error", err.Error()))
	}
}

// AsKind extracts the taxonomy Kind of err, defaulting to KindInternal for
// errors that never went through NewError/WrapError.
func AsKind(err error) Kind {
	if ae, ok := err.(*AppError); ok {
		return ae.Kind
	}
	return KindInternal
}
