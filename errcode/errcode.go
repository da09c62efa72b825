package errcode

import (
	"errors"
	"strings"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	NotReady      Code = "not_ready"
	NotFound      Code = "not_found"
	Timeout       Code = "timeout"

	// I2C transport.
	AddrNACK Code = "addr_nack"
	DataNACK Code = "data_nack"
	Overrun  Code = "overrun"

	// Framing and decoding.
	InvalidData    Code = "invalid_data"
	BufferOverflow Code = "buffer_overflow"

	// Radio stack.
	InvalidState  Code = "invalid_state"
	InvalidLength Code = "invalid_length"
	NoMemory      Code = "no_memory"
	NoResources   Code = "no_resources"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.Timeout) match a wrapped E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap attaches an operation name to err, keeping its code.
// Returns nil for a nil err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: Of(err), Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Retryable reports whether the caller may simply try again later.
func Retryable(err error) bool {
	switch Of(err) {
	case NoResources, Busy:
		return true
	}
	return false
}

// MapDriverErr maps low-level driver errors to a Code.
// Codes pass through; other errors are classified by message, which is
// all the TinyGo machine packages expose.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	if c := Of(err); c != Error {
		return c
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return Timeout
	case strings.Contains(msg, "overrun"), strings.Contains(msg, "overflow"):
		return Overrun
	case strings.Contains(msg, "address") && strings.Contains(msg, "nack"):
		return AddrNACK
	case strings.Contains(msg, "nack"), strings.Contains(msg, "ack expected"),
		strings.Contains(msg, "expected ack"):
		return DataNACK
	case strings.Contains(msg, "busy"):
		return Busy
	}
	return Error
}
