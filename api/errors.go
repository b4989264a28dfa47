// Package api
// Author: momentics <momentics@gmail.com>
//
// Return-code vocabulary and the structured error carried alongside it.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// ReturnCode is the status of a transport call. Non-negative values are
// successful or advisory; where a call reports queued or buffered bytes the
// positive value is that byte count.
type ReturnCode int

const (
	Success ReturnCode = 0

	// InitInProgress is returned by Channel.Init while the handshake is pending.
	InitInProgress ReturnCode = 2

	Failure            ReturnCode = -1
	InitNotInitialized ReturnCode = -2
	NoBuffers          ReturnCode = -4
	BufferTooSmall     ReturnCode = -21
	InvalidArgument    ReturnCode = -22
	WriteFlushFailed   ReturnCode = -9
	WriteCallAgain     ReturnCode = -10
	ReadWouldBlock     ReturnCode = -11
	ReadFDChange       ReturnCode = -12
	ReadPing           ReturnCode = -13
	InitRefused        ReturnCode = -15
	PeerUnresponsive   ReturnCode = -16
)

func (c ReturnCode) String() string {
	switch {
	case c == Success:
		return "success"
	case c == InitInProgress:
		return "init in progress"
	case c > 0:
		return fmt.Sprintf("%d bytes pending", int(c))
	}
	switch c {
	case Failure:
		return "failure"
	case InitNotInitialized:
		return "transport not initialized"
	case NoBuffers:
		return "no buffers"
	case BufferTooSmall:
		return "buffer too small"
	case InvalidArgument:
		return "invalid argument"
	case WriteFlushFailed:
		return "write flush failed"
	case WriteCallAgain:
		return "write call again"
	case ReadWouldBlock:
		return "read would block"
	case ReadFDChange:
		return "descriptor changed"
	case ReadPing:
		return "ping"
	case InitRefused:
		return "connection refused by peer"
	case PeerUnresponsive:
		return "peer unresponsive"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Advisory reports whether the code asks the caller to retry later rather
// than signalling a failure.
func (c ReturnCode) Advisory() bool {
	switch c {
	case NoBuffers, WriteCallAgain, ReadWouldBlock, ReadFDChange, ReadPing:
		return true
	}
	return c >= 0
}

// Error is the out-of-band error object returned next to a ReturnCode.
type Error struct {
	Code ReturnCode
	Text string
	// SysErr is the originating errno, zero when not caused by a system call.
	SysErr int
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Text
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.SysErr != 0 {
		msg = fmt.Sprintf("%s (errno %d)", msg, e.SysErr)
	}
	return msg
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ReturnCode, text string) *Error {
	return &Error{Code: code, Text: text}
}

// WrapError builds an Error around cause, pulling the errno out of it when
// one is present.
func WrapError(code ReturnCode, text string, cause error) *Error {
	e := &Error{Code: code, Text: text, Err: cause}
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		e.SysErr = int(errno)
	}
	return e
}

// CodeOf returns the ReturnCode carried by err, Success for nil and Failure
// for errors that are not *Error.
func CodeOf(err error) ReturnCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Failure
}
