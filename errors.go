package gpuspy

import (
	"github.com/gpuspy/submission-tracker/internal/errs"
	"github.com/gpuspy/submission-tracker/internal/handle"
)

// Code classifies an Error into one of the four kinds from the error
// handling design: precondition violations, driver-call failures,
// not-yet-ready async results, and bootstrap/environment failures.
type Code = errs.Code

const (
	ErrCodePrecondition  = errs.CodePrecondition
	ErrCodeDriverFailure = errs.CodeDriverFailure
	ErrCodeNotReady      = errs.CodeNotReady
	ErrCodeBootstrap     = errs.CodeBootstrap
)

// Error is a structured error carrying the operation that failed, the
// device and queue it applies to (if any), and the underlying cause. It is
// the single error type raised by every component, internal or public.
type Error = errs.Error

// NewError creates a structured error with no device/queue context.
func NewError(op string, code Code, msg string) *Error { return errs.New(op, code, msg) }

// NewDeviceError creates a device-scoped structured error.
func NewDeviceError(op string, device handle.Device, code Code, msg string) *Error {
	return errs.NewDevice(op, device, code, msg)
}

// NewQueueError creates a queue-scoped structured error.
func NewQueueError(op string, device handle.Device, queue handle.Queue, code Code, msg string) *Error {
	return errs.NewQueue(op, device, queue, code, msg)
}

// WrapError wraps an existing error with tracker context.
func WrapError(op string, inner error) *Error { return errs.Wrap(op, inner) }

// IsCode reports whether err is, or wraps, an *Error with the given code.
func IsCode(err error, code Code) bool { return errs.IsCode(err, code) }

// Precondition logs then panics with a structured ErrCodePrecondition error
// if cond is false. See the error handling design: an in-process layer
// cannot recover from caller misuse without risking driver corruption, so
// violations are fatal rather than returned.
func Precondition(op string, cond bool, format string, args ...any) {
	errs.Precondition(op, cond, format, args...)
}
