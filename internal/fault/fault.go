// Package fault defines the stable error taxonomy shared by every layer
// of the fabric. Errors carry a machine-readable code so callers can make
// retry/fallback decisions without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies an error class. Codes are stable across releases and are
// the only part of an error the engines key decisions on.
type Code string

const (
	// Registry resolution failures. Fatal for the call, never retried.
	BackendNotFound Code = "BACKEND_NOT_FOUND"
	BackendDisabled Code = "BACKEND_DISABLED"

	// Policy violations. Fatal for the call; counted as attempt failures
	// but retrying cannot fix them.
	PathForbidden    Code = "PATH_FORBIDDEN"
	DomainForbidden  Code = "DOMAIN_FORBIDDEN"
	SQLForbidden     Code = "SQL_FORBIDDEN"
	CommandForbidden Code = "COMMAND_FORBIDDEN"

	// Transport failures. Eligible for local-adapter fallback, retry and
	// circuit-breaking.
	ProtocolStartFailed Code = "PROTOCOL_START_FAILED"
	ProtocolIO          Code = "PROTOCOL_IO"
	ProtocolEOF         Code = "PROTOCOL_EOF"
	ProtocolTimeout     Code = "PROTOCOL_TIMEOUT"
	ProtocolRPCError    Code = "PROTOCOL_RPC_ERROR"
	ProtocolHTTPFailed  Code = "PROTOCOL_HTTP_FAILED"

	// No handler exists. Fatal.
	AdapterNotFound Code = "ADAPTER_NOT_FOUND"
	ToolNotFound    Code = "TOOL_NOT_FOUND"

	// Operator input errors, surfaced immediately.
	RunNotFound      Code = "RUN_NOT_FOUND"
	PipelineNotFound Code = "PIPELINE_NOT_FOUND"
	InvalidPipeline  Code = "INVALID_PIPELINE"

	// Internal is reported for errors that carry no Fault in their chain.
	Internal Code = "INTERNAL"
)

// Fault is an error with a stable code. It wraps an optional cause.
type Fault struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (f *Fault) Unwrap() error { return f.Err }

// Is treats two faults with the same code as equal, so sentinel faults can
// be matched with errors.Is.
func (f *Fault) Is(target error) bool {
	var other *Fault
	if errors.As(target, &other) {
		return f.Code == other.Code
	}
	return false
}

// New creates a fault with a formatted message.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error. A nil cause
// yields a plain fault.
func Wrap(code Code, err error, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf walks the error chain and returns the first fault code found,
// or Internal when the chain carries none. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return Internal
}

// IsCode reports whether the chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTransport reports whether the error is a protocol transport failure,
// the class eligible for local fallback and in-candidate retry.
func IsTransport(err error) bool {
	switch CodeOf(err) {
	case ProtocolStartFailed, ProtocolIO, ProtocolEOF, ProtocolTimeout,
		ProtocolRPCError, ProtocolHTTPFailed:
		return true
	}
	return false
}

// IsPolicy reports whether the error is a policy violation.
func IsPolicy(err error) bool {
	switch CodeOf(err) {
	case PathForbidden, DomainForbidden, SQLForbidden, CommandForbidden:
		return true
	}
	return false
}
