// Package errors defines the Writer's error taxonomy.
package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind classifies a Writer error for programmatic handling and logging.
type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindShape
	KindOutOfBounds
	KindDuplicate
	KindOutOfOrder
	KindStorage
	KindFilter
	KindState
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindShape:
		return "shape"
	case KindOutOfBounds:
		return "out_of_bounds"
	case KindDuplicate:
		return "duplicate"
	case KindOutOfOrder:
		return "out_of_order"
	case KindStorage:
		return "storage"
	case KindFilter:
		return "filter"
	case KindState:
		return "state"
	default:
		return "internal"
	}
}

// WriterError is a structured error carrying a Kind, free-form context and
// an optional wrapped cause.
type WriterError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *WriterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *WriterError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair of diagnostic context and returns the
// same error for chaining.
func (e *WriterError) WithDetail(key string, value interface{}) *WriterError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GRPCCode maps a Kind to the nearest-matching gRPC status code. Only this
// package's tests call it; no gRPC service is exposed by this package.
func (e *WriterError) GRPCCode() codes.Code {
	switch e.Kind {
	case KindInvalidArgument, KindShape, KindOutOfBounds, KindDuplicate, KindOutOfOrder:
		return codes.InvalidArgument
	case KindState:
		return codes.FailedPrecondition
	case KindStorage:
		return codes.Unavailable
	case KindFilter:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

func New(kind Kind, message string, cause error) *WriterError {
	return &WriterError{Kind: kind, Message: message, Cause: cause}
}

func InvalidArgument(message string) *WriterError {
	return New(KindInvalidArgument, message, nil)
}

func Shape(message string) *WriterError {
	return New(KindShape, message, nil)
}

func OutOfBounds(message string) *WriterError {
	return New(KindOutOfBounds, message, nil)
}

func Duplicate(message string) *WriterError {
	return New(KindDuplicate, message, nil)
}

func OutOfOrder(message string) *WriterError {
	return New(KindOutOfOrder, message, nil)
}

func Storage(message string, cause error) *WriterError {
	return New(KindStorage, message, cause)
}

func Filter(message string, cause error) *WriterError {
	return New(KindFilter, message, cause)
}

func State(message string) *WriterError {
	return New(KindState, message, nil)
}

func Internal(message string, cause error) *WriterError {
	return New(KindInternal, message, cause)
}

// Is reports whether err is a *WriterError of the given Kind.
func Is(err error, kind Kind) bool {
	we, ok := err.(*WriterError)
	return ok && we.Kind == kind
}

// KindOf extracts the Kind from err, or KindInternal if err is not a
// *WriterError.
func KindOf(err error) Kind {
	if we, ok := err.(*WriterError); ok {
		return we.Kind
	}
	return KindInternal
}
