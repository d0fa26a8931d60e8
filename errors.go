// Package corebus is the public API for the edge-device RPC runtime:
// the dynamic Object model, the arena allocator, and the core-bus /
// GG-IPC client surfaces.
package corebus

import (
	"errors"
	"fmt"
)

// Code is the 32-bit error enum shared by core-bus and GG-IPC (spec §6.4).
type Code uint32

const (
	Ok Code = iota
	Failure
	Nomem
	NoEntry
	Invalid
	Parse
	Unsupported
	Range
	NoConn
	Remote
	Retry
	Expected
	NoData
	Fatal
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "ok"
	case Failure:
		return "failure"
	case Nomem:
		return "nomem"
	case NoEntry:
		return "noentry"
	case Invalid:
		return "invalid"
	case Parse:
		return "parse"
	case Unsupported:
		return "unsupported"
	case Range:
		return "range"
	case NoConn:
		return "noconn"
	case Remote:
		return "remote"
	case Retry:
		return "retry"
	case Expected:
		return "expected"
	case NoData:
		return "nodata"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a structured error with an Op (what was being attempted), a
// Code (the §6.4 category), and an optional wrapped Inner error.
type Error struct {
	Op        string // Operation that failed (e.g. "corebus.call", "arena.alloc")
	Interface string // Core-bus interface name, if applicable
	Method    string // Core-bus method name, if applicable
	Handle    uint32 // Server/client handle, if applicable (0 if not applicable)
	Code      Code
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Interface != "" {
		parts = append(parts, fmt.Sprintf("interface=%s", e.Interface))
	}
	if e.Method != "" {
		parts = append(parts, fmt.Sprintf("method=%s", e.Method))
	}
	if e.Handle != 0 {
		parts = append(parts, fmt.Sprintf("handle=%d", e.Handle))
	}

	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("corebus: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("corebus: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no wrapped cause.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewRPCError creates a structured error scoped to a core-bus call.
func NewRPCError(op, iface, method string, handle uint32, code Code, msg string) *Error {
	return &Error{Op: op, Interface: iface, Method: method, Handle: handle, Code: code, Msg: msg}
}

// WrapError wraps an existing error under a new operation name, preserving
// code/message if the inner error is already a *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			Interface: ue.Interface,
			Method:    ue.Method,
			Handle:    ue.Handle,
			Code:      ue.Code,
			Msg:       ue.Msg,
			Inner:     ue.Inner,
		}
	}
	return &Error{Op: op, Code: Failure, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error with the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
