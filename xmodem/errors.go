package xmodem

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error represents an XMODEM protocol error
type Error struct {
	// Type is the error type
	Type ErrorType

	// Message is a human-readable error message
	Message string

	// Packet is the sequence number involved (-1 if none)
	Packet int
}

// ErrorType categorizes XMODEM errors
type ErrorType int

const (
	// ErrTimeout indicates the line stayed silent past a deadline
	ErrTimeout ErrorType = iota

	// ErrFraming indicates a packet arrived short
	ErrFraming

	// ErrValidation indicates a bad complement, trailer or sequence
	ErrValidation

	// ErrRetransmitLimit indicates the consecutive failure budget ran out
	ErrRetransmitLimit

	// ErrCancelled indicates the peer cancelled with CAN CAN
	ErrCancelled

	// ErrSync indicates the handshake or packet stream never started
	ErrSync

	// ErrIO indicates the sink or the line failed
	ErrIO

	// ErrNakLimit indicates the receiver rejected a block too many times
	ErrNakLimit
)

func (e *Error) Error() string {
	if e.Packet >= 0 {
		return fmt.Sprintf("xmodem %s: %s (packet %d)", e.Type, e.Message, e.Packet)
	}
	return fmt.Sprintf("xmodem %s: %s", e.Type, e.Message)
}

func (t ErrorType) String() string {
	switch t {
	case ErrTimeout:
		return "timeout"
	case ErrFraming:
		return "framing error"
	case ErrValidation:
		return "validation error"
	case ErrRetransmitLimit:
		return "retransmit limit exceeded"
	case ErrCancelled:
		return "cancelled by peer"
	case ErrSync:
		return "sync error"
	case ErrIO:
		return "I/O error"
	case ErrNakLimit:
		return "too many NAKs"
	default:
		return "unknown error"
	}
}

// NewError creates a new XMODEM error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Packet:  -1,
	}
}

// NewPacketError creates a new XMODEM error tied to a packet sequence number
func NewPacketError(errType ErrorType, message string, packet int) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Packet:  packet,
	}
}

func isType(err error, t ErrorType) bool {
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Type == t
	}
	return false
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return isType(err, ErrTimeout)
}

// IsCancelled checks if the peer cancelled the transfer
func IsCancelled(err error) bool {
	return isType(err, ErrCancelled)
}

// IsRetransmitLimit checks if the failure budget ran out
func IsRetransmitLimit(err error) bool {
	return isType(err, ErrRetransmitLimit)
}

// IsSync checks if the transfer never synchronised
func IsSync(err error) bool {
	return isType(err, ErrSync)
}
