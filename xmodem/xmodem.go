// Package xmodem implements the receive and send sides of the XMODEM and
// XMODEM-1K file transfer protocols.
//
// The receiver is written for a firmware update path: it streams every
// accepted payload into an io.WriterAt at a fixed base offset, feeds the
// delivered bytes into a running hash, and never writes past the declared
// image size. The sender is its host-side peer.
//
// Both sides talk to the line through a Link, which the uart package's Port
// satisfies.
package xmodem

import (
	"io"
	"time"
)

// Ward Christensen / CP/M parameters
const (
	SOH     = 0x01 // 128 byte payload follows
	STX     = 0x02 // 1024 byte payload follows
	EOT     = 0x04 // End of transmission
	ACK     = 0x06
	NAK     = 0x15
	CAN     = 'X' & 0x1F
	CPMEOF  = 0x1A // Pad byte for short final blocks
	WANTCRC = 0x43 // send C not NAK to get crc not checksum
)

// Payload sizes
const (
	BlockSize   = 128
	BlockSize1K = 1024
)

// Link is the serial line seen by the protocol engines.
type Link interface {
	// ReadByteTimeout returns the next received byte or a timeout error.
	ReadByteTimeout(timeout time.Duration) (byte, error)

	// ReadFullTimeout fills p and returns how many bytes arrived before
	// the deadline.
	ReadFullTimeout(p []byte, timeout time.Duration) int

	io.Writer
}

var canSequence = []byte{CAN, CAN, CAN}
