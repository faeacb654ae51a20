package cbffi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Code classifies a boundary failure. Codes are stable and appear verbatim in
// the JSON error text handed to foreign callers.
type Code uint8

const (
	// InvalidArgument reports a malformed input buffer, handle or option.
	InvalidArgument Code = iota + 1
	// NotFound reports an unknown or already released handle.
	NotFound
	// ResourceExhausted reports that the handle space or a backing allocation
	// ran out.
	ResourceExhausted
	// Cancelled reports that the caller asked the call to stop.
	Cancelled
	// Internal reports an unexpected failure inside the callee.
	Internal
)

// String returns the code name used in error JSON.
func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case ResourceExhausted:
		return "ResourceExhausted"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// ParseCode is the inverse of Code.String.
func ParseCode(s string) (Code, bool) {
	for c := InvalidArgument; c <= Internal; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return 0, false
}

// Error is the single error type that crosses the boundary.
type Error struct {
	Code Code
	Op   string // boundary call that failed, if known
	Msg  string
	Err  error // underlying cause
}

// Error renders op, message and cause.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("cbffi: %s: %v", msg, e.Err)
	}
	return "cbffi: " + msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is makes the bare sentinels (ErrNotFound, ...) match any *Error carrying the
// same code. Sentinels with a message also match copies made by AsError.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Err != nil {
		return false
	}
	if t.Msg != "" && t.Msg != e.Msg {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is. The code sentinels match any *Error with the same
// code.
var (
	ErrInvalidArgument   = &Error{Code: InvalidArgument}
	ErrNotFound          = &Error{Code: NotFound}
	ErrResourceExhausted = &Error{Code: ResourceExhausted}
	ErrCancelled         = &Error{Code: Cancelled}
	ErrInternal          = &Error{Code: Internal}

	// ErrHostClosed is returned by calls on a closed Host.
	ErrHostClosed  = &Error{Code: InvalidArgument, Msg: "host has been closed"}
	// ErrTableClosed is returned by Register after HandleTable.Close.
	ErrTableClosed = &Error{Code: InvalidArgument, Msg: "handle table has been closed"}
)

// Errorf builds an *Error. When the last argument is an error it becomes the
// cause instead of a format operand.
func Errorf(code Code, format string, args ...any) *Error {
	var cause error
	if n := len(args); n > 0 {
		if c, ok := args[n-1].(error); ok {
			cause = c
			args = args[:n-1]
		}
	}
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf classifies err. Context cancellation and deadlines count as
// Cancelled; anything unrecognised is Internal.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}

// AsError converts any error into an *Error tagged with op. Existing *Error
// values are copied so the caller's value is never mutated.
func AsError(op string, err error) *Error {
	if err == nil {
		return &Error{Code: Internal, Op: op, Msg: "call failed without an error"}
	}
	if e, ok := err.(*Error); ok {
		out := *e
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	return &Error{Code: CodeOf(err), Op: op, Err: err}
}

type jsonError struct {
	Code  string     `json:"code"`
	Op    string     `json:"op,omitempty"`
	Msg   string     `json:"msg"`
	Cause *jsonError `json:"cause,omitempty"`
}

// MarshalJSON renders the error chain as nested {code, op, msg, cause} objects.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(encodeError(e))
}

func encodeError(err error) *jsonError {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return &jsonError{Code: CodeOf(err).String(), Msg: err.Error()}
	}
	out := &jsonError{Code: e.Code.String(), Op: e.Op, Msg: e.Msg}
	if e.Err != nil {
		if out.Msg == "" {
			out.Msg = e.Err.Error()
		} else {
			out.Cause = encodeError(e.Err)
		}
	}
	if out.Msg == "" {
		out.Msg = e.Code.String()
	}
	return out
}
