package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the normalized failure category shared by every transport.
type Kind string

const (
	KindInvalidArguments   Kind = "invalid_arguments"
	KindNoAvailablePort    Kind = "no_available_port"
	KindEngineExecution    Kind = "engine_execution_error"
	KindTimeout            Kind = "timeout"
	KindArtifactIO         Kind = "artifact_io_error"
	KindUpstreamGeneration Kind = "upstream_generation_error"
	KindUnknownOperation   Kind = "unknown_operation"
	KindInternal           Kind = "internal"
)

// Error is a classified failure. Partial carries a payload that was produced
// before the failure (e.g. generated text that could not be spoken).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Partial any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the taxonomy kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Message != "" {
			return fe.Message
		}
		if fe.Err != nil {
			return fe.Err.Error()
		}
		return string(fe.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutMessage
	}
	return err.Error()
}

// PartialOf returns the partial payload attached to err, if any.
func PartialOf(err error) any {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Partial
	}
	return nil
}

// TimeoutMessage is the fixed user-visible text for bounded-wait expiry.
const TimeoutMessage = "Operation timed out"

// HTTPStatus maps a kind onto the REST surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArguments:
		return http.StatusBadRequest
	case KindUnknownOperation:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable classifies kinds a caller may reasonably retry. The server itself
// never retries.
func Retryable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindEngineExecution, KindUpstreamGeneration, KindArtifactIO:
		return true
	default:
		return false
	}
}
