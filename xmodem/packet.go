package xmodem

// Mode selects the packet trailer: a one byte arithmetic checksum or a two
// byte CRC-16/CCITT.
type Mode int

const (
	ModeChecksum Mode = iota
	ModeCRC
)

func (m Mode) String() string {
	if m == ModeCRC {
		return "crc16"
	}
	return "checksum"
}

// TrailerLen returns the number of trailer bytes the mode appends.
func (m Mode) TrailerLen() int {
	if m == ModeCRC {
		return 2
	}
	return 1
}

// StartKind is the meaning of the first byte of a prospective packet.
type StartKind int

const (
	KindOther StartKind = iota
	KindPacket128
	KindPacket1024
	KindEndOfTransmission
	KindCancel
)

func (k StartKind) String() string {
	switch k {
	case KindPacket128:
		return "SOH"
	case KindPacket1024:
		return "STX"
	case KindEndOfTransmission:
		return "EOT"
	case KindCancel:
		return "CAN"
	default:
		return "other"
	}
}

// PayloadSize returns the payload length announced by a packet start byte,
// or 0 for kinds that carry no payload.
func (k StartKind) PayloadSize() int {
	switch k {
	case KindPacket128:
		return BlockSize
	case KindPacket1024:
		return BlockSize1K
	default:
		return 0
	}
}

// ClassifyStartByte interprets the first byte of a prospective packet.
func ClassifyStartByte(b byte) StartKind {
	switch b {
	case SOH:
		return KindPacket128
	case STX:
		return KindPacket1024
	case EOT:
		return KindEndOfTransmission
	case CAN:
		return KindCancel
	default:
		return KindOther
	}
}

// CRC16 computes CRC-16/CCITT as used by XMODEM: polynomial 0x1021,
// zero seed, no reflection, one bit at a time MSB first.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Checksum is the arithmetic sum of data modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Validate checks a packet body as it follows the start byte: sequence,
// complemented sequence, size payload bytes and the mode's trailer.
func Validate(body []byte, size int, mode Mode) bool {
	if len(body) != 2+size+mode.TrailerLen() {
		return false
	}
	if body[0] != ^body[1] {
		return false
	}
	payload := body[2 : 2+size]
	trailer := body[2+size:]

	if mode == ModeCRC {
		crc := CRC16(payload)
		return trailer[0] == byte(crc>>8) && trailer[1] == byte(crc)
	}
	return trailer[0] == Checksum(payload)
}

// SeqResult is the outcome of comparing a received sequence number to the
// expected one.
type SeqResult int

const (
	SeqReject SeqResult = iota
	SeqAccept
	SeqDuplicate
)

func (r SeqResult) String() string {
	switch r {
	case SeqAccept:
		return "accept"
	case SeqDuplicate:
		return "duplicate"
	default:
		return "reject"
	}
}

// CheckSequence accepts the expected number and flags expected-1 (mod 256)
// as a retransmitted duplicate.
func CheckSequence(received, expected byte) SeqResult {
	switch received {
	case expected:
		return SeqAccept
	case expected - 1:
		return SeqDuplicate
	default:
		return SeqReject
	}
}

// EncodePacket frames payload as packet seq. The payload is padded with pad
// up to 128 or 1024 bytes; payloads longer than 128 bytes, or any payload
// when use1K is set, use a 1024 byte frame.
func EncodePacket(seq byte, payload []byte, use1K bool, mode Mode, pad byte) []byte {
	start, size := byte(SOH), BlockSize
	if use1K || len(payload) > BlockSize {
		start, size = STX, BlockSize1K
	}
	if len(payload) > size {
		payload = payload[:size]
	}

	frame := make([]byte, 0, 3+size+mode.TrailerLen())
	frame = append(frame, start, seq, ^seq)
	frame = append(frame, payload...)
	for len(frame) < 3+size {
		frame = append(frame, pad)
	}

	data := frame[3 : 3+size]
	if mode == ModeCRC {
		crc := CRC16(data)
		frame = append(frame, byte(crc>>8), byte(crc))
	} else {
		frame = append(frame, Checksum(data))
	}
	return frame
}
