package narrative

import (
	"errors"
	"fmt"
)

// ErrorClass is the coarse failure taxonomy used at tier boundaries.
type ErrorClass string

const (
	ClassTransport   ErrorClass = "transport_failure"
	ClassMalformed   ErrorClass = "malformed_output"
	ClassUnavailable ErrorClass = "agent_unavailable"
	ClassValidation  ErrorClass = "validation_failure"
)

// ErrorKind is the precise cause recorded into the health monitor.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindConnection      ErrorKind = "connection_error"
	KindRateLimited     ErrorKind = "rate_limited"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindServer          ErrorKind = "server_error"
	KindAuthentication  ErrorKind = "authentication_error"
	KindQuotaExceeded   ErrorKind = "quota_exceeded"
	KindUnknown         ErrorKind = "unknown_error"
)

// Error carries a class and kind alongside the underlying cause.
type Error struct {
	Class ErrorClass
	Kind  ErrorKind
	Agent string
	Err   error
}

// NewError builds a classified error.
func NewError(class ErrorClass, kind ErrorKind, agentID string, err error) *Error {
	return &Error{Class: class, Kind: kind, Agent: agentID, Err: err}
}

func (e *Error) Error() string {
	prefix := string(e.Class)
	if e.Agent != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.Agent)
	}
	if e.Kind != "" && e.Kind != KindUnknown {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Kind)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err, or ClassTransport for unclassified errors.
func ClassOf(err error) ErrorClass {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Class
	}
	return ClassTransport
}

// KindOf returns the kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) ErrorKind {
	var ne *Error
	if errors.As(err, &ne) && ne.Kind != "" {
		return ne.Kind
	}
	return KindUnknown
}
