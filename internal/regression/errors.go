package regression

import (
	"errors"
	"fmt"
)

// Kind classifies a regression error. All kinds are precondition or
// factorization failures detected before any partial result is produced.
type Kind int

const (
	// KindUnknown is the zero value and carries no classification.
	KindUnknown Kind = iota
	// KindShapeMismatch reports a hyperparameter vector whose shape does not
	// match the kernel's declared parameter shape for the given samples.
	KindShapeMismatch
	// KindNonPositiveDefinite reports a kernel matrix that failed Cholesky
	// factorization.
	KindNonPositiveDefinite
	// KindBatchMismatch reports inconsistent batch structure, either between
	// a composite kernel's children or between the two point sets of a call.
	KindBatchMismatch
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindShapeMismatch:
		return "shape mismatch"
	case KindNonPositiveDefinite:
		return "non positive definite"
	case KindBatchMismatch:
		return "batch mismatch"
	default:
		return "unknown"
	}
}

// Error represents a regression error with context that can be wrapped
// with additional information.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Hyperparameters holds the offending hyperparameter vector for
	// factorization failures, nil otherwise.
	Hyperparameters []float64
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != KindUnknown {
		if msg != "" {
			msg = fmt.Sprintf("%s: %s", e.Kind, msg)
		} else {
			msg = e.Kind.String()
		}
	}
	if e.Hyperparameters != nil {
		msg = fmt.Sprintf("%s (hyperparameters %v)", msg, e.Hyperparameters)
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same kind. It lets callers match
// against the exported sentinel errors with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && t.Message == "" && t.Op == ""
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithHyperparameters records the hyperparameter vector the error refers to.
// The slice is copied.
func (e *Error) WithHyperparameters(hp []float64) *Error {
	e.Hyperparameters = append([]float64(nil), hp...)
	return e
}

// Sentinel values for errors.Is matching.
var (
	ErrShapeMismatch       = &Error{Kind: KindShapeMismatch}
	ErrNonPositiveDefinite = &Error{Kind: KindNonPositiveDefinite}
	ErrBatchMismatch       = &Error{Kind: KindBatchMismatch}
)

// NewError creates a new regression error with the given kind and message.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new regression error with a formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var kind Kind
	var inner *Error
	if errors.As(err, &inner) {
		kind = inner.Kind
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return WrapError(err, fmt.Sprintf(format, args...))
}

// IsRegressionError checks if an error is of type Error.
// If it is, it returns the error and true. Otherwise nil and false.
func IsRegressionError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
