package xmodem

import "time"

// Callbacks provides hooks for XMODEM transfer events.
// All callbacks are optional - nil callbacks use default behavior.
type Callbacks struct {
	// OnProgress is called periodically during a transfer.
	// transferred: bytes delivered (receiver) or acknowledged (sender)
	// total: declared size (0 if unknown)
	// rate: transfer rate in bytes per second
	OnProgress func(transferred, total int64, rate float64)

	// OnPacket is called after each packet is accepted, with the
	// sequence number and the number of payload bytes kept.
	OnPacket func(seq byte, kept int)

	// OnComplete is called when a transfer ends with EOT.
	OnComplete func(bytesTransferred int64, duration time.Duration)

	// OnEvent is called for protocol events (debugging/logging).
	OnEvent func(event Event)
}

// Event represents a protocol event for logging/debugging.
type Event struct {
	Type      EventType
	Message   string
	Packet    int
	Timestamp time.Time
}

// EventType categorizes protocol events.
type EventType int

const (
	EventHandshake EventType = iota
	EventPacketAccepted
	EventDuplicate
	EventNak
	EventEndOfTransmission
	EventCancelled
	EventTimeout
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventHandshake:
		return "handshake"
	case EventPacketAccepted:
		return "accepted"
	case EventDuplicate:
		return "duplicate"
	case EventNak:
		return "nak"
	case EventEndOfTransmission:
		return "eot"
	case EventCancelled:
		return "cancelled"
	case EventTimeout:
		return "timeout"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// defaultCallbacks returns a set of callbacks that do nothing.
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnProgress: func(int64, int64, float64) {},
		OnPacket:   func(byte, int) {},
		OnComplete: func(int64, time.Duration) {},
		OnEvent:    func(Event) {},
	}
}

// mergeCallbacks merges user callbacks with defaults.
// User callbacks override defaults, nil callbacks use defaults.
func mergeCallbacks(user *Callbacks) *Callbacks {
	result := defaultCallbacks()
	if user == nil {
		return result
	}

	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	}
	if user.OnPacket != nil {
		result.OnPacket = user.OnPacket
	}
	if user.OnComplete != nil {
		result.OnComplete = user.OnComplete
	}
	if user.OnEvent != nil {
		result.OnEvent = user.OnEvent
	}
	return result
}
