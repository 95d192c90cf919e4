package ota

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind categorizes command errors.
type ErrorKind int

const (
	// ErrTimeout indicates the operator stopped typing mid-command
	ErrTimeout ErrorKind = iota

	// ErrPreamble indicates a line that does not start with '{'
	ErrPreamble

	// ErrUnknownCommand indicates an unknown tag or debug target
	ErrUnknownCommand

	// ErrBadArgs indicates arguments that do not parse
	ErrBadArgs

	// ErrConfirmation indicates a destructive command without its
	// confirmation word
	ErrConfirmation

	// ErrLink indicates the serial line failed or closed
	ErrLink
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrPreamble:
		return "missing preamble"
	case ErrUnknownCommand:
		return "unknown command"
	case ErrBadArgs:
		return "bad arguments"
	case ErrConfirmation:
		return "confirmation mismatch"
	case ErrLink:
		return "link failure"
	default:
		return "unknown error"
	}
}

// Error is a command level failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ota %s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func kindOf(err error) (ErrorKind, bool) {
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}

// IsParseError reports whether err comes from a malformed command line.
func IsParseError(err error) bool {
	k, ok := kindOf(err)
	return ok && (k == ErrPreamble || k == ErrUnknownCommand || k == ErrBadArgs)
}

// IsConfirmation reports whether a destructive command was ignored.
func IsConfirmation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrConfirmation
}

// IsTimeout reports whether the operator input timed out.
func IsTimeout(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrTimeout
}

// IsLinkError reports whether the serial line is gone.
func IsLinkError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrLink
}
