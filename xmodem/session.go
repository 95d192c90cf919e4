package xmodem

import (
	"hash"
	"io"
	"time"
)

// Config holds protocol timing and retry limits.
type Config struct {
	// MaxRetrans is the number of consecutive failed packets tolerated
	// before the transfer is cancelled.
	MaxRetrans int

	// MaxHandshakeRetries is the number of polls sent with each
	// handshake character, and the number of silent first-byte waits
	// tolerated once packets are flowing.
	MaxHandshakeRetries int

	// Timeouts
	FirstByteTimeout time.Duration // wait for a start byte
	CancelTimeout    time.Duration // wait for the second CAN
	PacketTimeout    time.Duration // wait for the rest of a packet
	FlushTimeout     time.Duration // line idle time that ends a flush

	// Use1K makes the sender emit 1024 byte blocks (STX).
	Use1K bool

	// Progress update interval
	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetrans:          25,
		MaxHandshakeRetries: 16,
		FirstByteTimeout:    2 * time.Second,
		CancelTimeout:       time.Second,
		PacketTimeout:       10 * time.Second,
		FlushTimeout:        1500 * time.Millisecond,
		Use1K:               true,
		ProgressInterval:    100 * time.Millisecond,
	}
}

type settings struct {
	config    *Config
	callbacks *Callbacks
	logger    Logger
}

func newSettings(opts []Option) *settings {
	s := &settings{
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a Receiver or Sender.
type Option func(*settings)

// WithConfig sets the protocol configuration.
func WithConfig(config *Config) Option {
	return func(s *settings) {
		if config != nil {
			s.config = config
		}
	}
}

// WithCallbacks sets the transfer callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *settings) {
		s.callbacks = mergeCallbacks(callbacks)
	}
}

// WithLogger sets a logger for protocol debugging.
func WithLogger(logger Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Transfer describes where one received image goes.
type Transfer struct {
	// Size is the declared image length. Bytes beyond it are discarded.
	Size int64

	// Offset is the destination base handed to Sink.WriteAt.
	Offset int64

	// Sink receives every accepted payload byte.
	Sink io.WriterAt

	// Hash, if set, is fed exactly the delivered bytes.
	Hash hash.Hash
}

// session is the runtime state of one Receive call.
type session struct {
	t         *Transfer
	expected  byte // next sequence number wanted
	budget    int  // consecutive failures left
	mode      Mode
	modeFixed bool
	delivered int64
	started   time.Time
}

func newSession(t *Transfer, maxRetrans int) *session {
	return &session{
		t:        t,
		expected: 1,
		budget:   maxRetrans,
		started:  time.Now(),
	}
}

func (s *session) remaining() int64 {
	return s.t.Size - s.delivered
}
