// Package failure defines the kinds of failures a scoring request may end with.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternalProcessingError Kind = iota
	KindEmptyPayload
	KindInvalidFormat
	KindDurationOutOfRange
	KindAlignmentFailed
	KindFrameCountMismatch
	KindInsufficientSignal
	KindUpstreamTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInternalProcessingError:
		return "InternalProcessingError"
	case KindEmptyPayload:
		return "EmptyPayload"
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindDurationOutOfRange:
		return "DurationOutOfRange"
	case KindAlignmentFailed:
		return "AlignmentFailed"
	case KindFrameCountMismatch:
		return "FrameCountMismatch"
	case KindInsufficientSignal:
		return "InsufficientSignal"
	case KindUpstreamTimeout:
		return "UpstreamTimeout"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// HTTPStatus returns the response status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindEmptyPayload:
		return http.StatusBadRequest
	case KindInvalidFormat:
		return http.StatusUnsupportedMediaType
	case KindDurationOutOfRange, KindAlignmentFailed, KindFrameCountMismatch, KindInsufficientSignal:
		return http.StatusUnprocessableEntity
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies err. The message is what the caller will see (unless
// the kind is InternalProcessingError).
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, failure.EmptyPayload) match by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	EmptyPayload            = &Error{Kind: KindEmptyPayload}
	InvalidFormat           = &Error{Kind: KindInvalidFormat}
	DurationOutOfRange      = &Error{Kind: KindDurationOutOfRange}
	AlignmentFailed         = &Error{Kind: KindAlignmentFailed}
	FrameCountMismatch      = &Error{Kind: KindFrameCountMismatch}
	InsufficientSignal      = &Error{Kind: KindInsufficientSignal}
	UpstreamTimeout         = &Error{Kind: KindUpstreamTimeout}
	InternalProcessingError = &Error{Kind: KindInternalProcessingError}
)

// KindOf classifies an arbitrary error.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternalProcessingError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamTimeout
	}
	return KindInternalProcessingError
}

// PublicMessage is the message safe to show to a caller.
func PublicMessage(err error) string {
	kind := KindOf(err)
	switch kind {
	case KindInternalProcessingError:
		return "internal processing error"
	case KindUpstreamTimeout:
		var e *Error
		if errors.As(err, &e) && e.Message != "" {
			return e.Message
		}
		return "processing timed out"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return kind.String()
}
