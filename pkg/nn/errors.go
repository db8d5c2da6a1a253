package nn

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures that the detection pipeline reports
type ErrorKind int

const (
	ErrKindModelNotFound            ErrorKind = iota + 1 // Model resource is missing
	ErrKindLabelsNotFound                                // Labels resource is missing
	ErrKindBackendInitFailure                            // Backend failed to load the model or allocate tensors
	ErrKindBackendInvocationFailure                      // Backend failed during a single inference call
	ErrKindMalformedInput                                // Unsupported pixel format, buffer size mismatch, bad config
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindModelNotFound:
		return "model not found"
	case ErrKindLabelsNotFound:
		return "labels not found"
	case ErrKindBackendInitFailure:
		return "backend init failure"
	case ErrKindBackendInvocationFailure:
		return "backend invocation failure"
	case ErrKindMalformedInput:
		return "malformed input"
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// Error is a tagged error. Use errors.Is(err, nn.ErrModelNotFound) etc to test the kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error // Underlying cause, may be nil
}

// Sentinels for errors.Is. They compare by Kind only.
var (
	ErrModelNotFound            = &Error{Kind: ErrKindModelNotFound}
	ErrLabelsNotFound           = &Error{Kind: ErrKindLabelsNotFound}
	ErrBackendInitFailure       = &Error{Kind: ErrKindBackendInitFailure}
	ErrBackendInvocationFailure = &Error{Kind: ErrKindBackendInvocationFailure}
	ErrMalformedInput           = &Error{Kind: ErrKindMalformedInput}
)

// NewError creates an Error of the same kind as 'kind', which is one of the sentinels above
func NewError(kind *Error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind.Kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError creates an Error of the same kind as 'kind', with 'cause' as the underlying error
func WrapError(kind *Error, cause error, format string, args ...any) *Error {
	e := NewError(kind, format, args...)
	e.Err = cause
	return e
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0 if there is none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
