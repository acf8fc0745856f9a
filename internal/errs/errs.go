// Package errs defines the structured error type shared by every internal
// component, so each can raise precondition violations and wrap driver
// failures without importing the public root package (which imports them).
// The root gpuspy package re-exports these names for external callers.
package errs

import (
	"errors"
	"fmt"

	"github.com/gpuspy/submission-tracker/internal/handle"
	"github.com/gpuspy/submission-tracker/internal/logging"
)

// Code represents high-level error categories raised by the tracker.
type Code string

const (
	// CodePrecondition marks caller misuse the layer cannot recover from
	// without risking corrupting the driver's submission order: tracking a
	// handle twice, referencing an untracked handle, double-marking a
	// timer query slot.
	CodePrecondition Code = "precondition violation"
	// CodeDriverFailure marks a driver call that returned a non-success
	// result. Side effects are only ever applied after a driver call
	// succeeds, so these leave state as it was before the call.
	CodeDriverFailure Code = "driver call failed"
	// CodeNotReady marks an asynchronous result not yet available. Not a
	// failure; callers are expected to retry on a later poll.
	CodeNotReady Code = "result not ready"
	// CodeBootstrap marks a failure standing the layer up.
	CodeBootstrap Code = "bootstrap failure"
)

// Error is a structured error carrying the operation that failed, the
// device and queue it applies to (the zero handle if not applicable), and
// the underlying cause.
type Error struct {
	Op     string
	Device handle.Device
	Queue  handle.Queue
	Code   Code
	Msg    string
	Inner  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Device != 0 {
		parts = append(parts, fmt.Sprintf("device=%#x", uintptr(e.Device)))
	}
	if e.Queue != 0 {
		parts = append(parts, fmt.Sprintf("queue=%#x", uintptr(e.Queue)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if e.Op != "" {
		parts = append([]string{fmt.Sprintf("op=%s", e.Op)}, parts...)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("gpuspy: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("gpuspy: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error with no device/queue context.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewDevice creates a device-scoped structured error.
func NewDevice(op string, device handle.Device, code Code, msg string) *Error {
	return &Error{Op: op, Device: device, Code: code, Msg: msg}
}

// NewQueue creates a queue-scoped structured error.
func NewQueue(op string, device handle.Device, queue handle.Queue, code Code, msg string) *Error {
	return &Error{Op: op, Device: device, Queue: queue, Code: code, Msg: msg}
}

// Wrap wraps an existing error under a new operation name, preserving the
// scope and code of an inner *Error or defaulting to CodeDriverFailure for
// any other error.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ie *Error
	if errors.As(inner, &ie) {
		return &Error{
			Op:     op,
			Device: ie.Device,
			Queue:  ie.Queue,
			Code:   ie.Code,
			Msg:    ie.Msg,
			Inner:  ie.Inner,
		}
	}

	return &Error{Op: op, Code: CodeDriverFailure, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is, or wraps, an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Precondition logs then panics with a structured CodePrecondition error
// if cond is false. The tracker is an in-process library embedded in the
// application's graphics driver call path: a caller violating its
// invariants cannot be safely recovered from, so violations are fatal
// rather than returned. The log line is written through the process-wide
// default logger (see internal/logging) so the violation is visible even
// when the panic unwinds through a layer the caller doesn't control.
func Precondition(op string, cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	logging.Default().Error("precondition violation", "op", op, "msg", msg)
	panic(&Error{Op: op, Code: CodePrecondition, Msg: msg})
}
