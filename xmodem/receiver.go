package xmodem

import (
	"context"
	"fmt"
	"time"
)

// Receiver handles receiving one image using the XMODEM protocol.
type Receiver struct {
	link      Link
	config    *Config
	callbacks *Callbacks
	logger    Logger
	progress  *ProgressTracker
}

// NewReceiver creates a new XMODEM receiver on link.
func NewReceiver(link Link, opts ...Option) *Receiver {
	s := newSettings(opts)
	r := &Receiver{
		link:      link,
		config:    s.config,
		callbacks: s.callbacks,
		logger:    s.logger,
	}
	r.progress = NewProgressTracker(r.callbacks.OnProgress, s.config.ProgressInterval)
	return r
}

// Receiver states
type state int

const (
	stateAwaitFirstByte state = iota
	stateReadPayload
	stateValidate
	stateDeliver
	stateDuplicate
	stateOutOfSequence
	stateNak
	stateDone
	stateCancelled
	stateSyncError
	stateRetransLimit
)

var stateNames = [...]string{
	"AwaitFirstByte",
	"ReadPayload",
	"Validate",
	"Deliver",
	"Duplicate",
	"OutOfSequence",
	"Nak",
	"Done",
	"Cancelled",
	"SyncError",
	"RetransLimit",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Receive runs one transfer into t and returns the number of bytes
// delivered to t.Sink. It ends when the peer sends EOT, the peer cancels,
// the retransmit budget runs out, the handshake fails or ctx is done.
func (r *Receiver) Receive(ctx context.Context, t *Transfer) (int64, error) {
	s := newSession(t, r.config.MaxRetrans)
	trychar := byte(WANTCRC)
	body := make([]byte, 2+BlockSize1K+2)

	var (
		size   int
		reason string
		err    error
	)

	r.logger.Info("Receive: size=%d offset=%d", t.Size, t.Offset)
	r.progress.Start(t.Size)

	st := stateAwaitFirstByte
	for {
		if cerr := ctx.Err(); cerr != nil {
			r.logger.Info("Receive: context done after %d bytes", s.delivered)
			r.cancel()
			return s.delivered, cerr
		}

		switch st {
		case stateAwaitFirstByte:
			st, size, err = r.awaitFirstByte(ctx, s, &trychar)
			if err != nil {
				return s.delivered, err
			}

		case stateReadPayload:
			need := 2 + size + s.mode.TrailerLen()
			n := r.link.ReadFullTimeout(body[:need], r.config.PacketTimeout)
			if n < need {
				// Short frames are a line problem, not a content failure.
				r.logger.Error("Receive: short packet %d/%d bytes", n, need)
				r.event(EventNak, int(s.expected), "short packet")
				r.flush()
				if err := r.send(NAK); err != nil {
					return s.delivered, err
				}
				st = stateAwaitFirstByte
				continue
			}
			st = stateValidate

		case stateValidate:
			frame := body[:2+size+s.mode.TrailerLen()]
			r.logger.Debug("%s", FormatPacketLog("RECV", startByteFor(size), frame[0], frame[1], size, s.mode))
			if !Validate(frame, size, s.mode) {
				reason = "bad complement or trailer"
				st = stateNak
				continue
			}
			switch CheckSequence(frame[0], s.expected) {
			case SeqAccept:
				st = stateDeliver
			case SeqDuplicate:
				st = stateDuplicate
			default:
				reason = fmt.Sprintf("sequence %d, want %d", frame[0], s.expected)
				st = stateOutOfSequence
			}

		case stateDeliver:
			if err := r.deliver(s, body[2:2+size]); err != nil {
				r.cancel()
				return s.delivered, err
			}
			if err := r.send(ACK); err != nil {
				return s.delivered, err
			}
			st = stateAwaitFirstByte

		case stateDuplicate:
			r.logger.Info("Receive: duplicate packet %d", s.expected-1)
			r.event(EventDuplicate, int(s.expected-1), "duplicate acknowledged")
			s.budget--
			if s.budget <= 0 {
				st = stateRetransLimit
				continue
			}
			if err := r.send(ACK); err != nil {
				return s.delivered, err
			}
			st = stateAwaitFirstByte

		case stateOutOfSequence:
			// An intact frame with the wrong number is resent, not counted.
			r.logger.Error("Receive: packet %d rejected (%s)", s.expected, reason)
			r.event(EventNak, int(s.expected), reason)
			r.flush()
			if err := r.send(NAK); err != nil {
				return s.delivered, err
			}
			st = stateAwaitFirstByte

		case stateNak:
			s.budget--
			r.logger.Error("Receive: packet %d rejected (%s), %d retries left", s.expected, reason, s.budget)
			r.event(EventNak, int(s.expected), reason)
			if s.budget <= 0 {
				st = stateRetransLimit
				continue
			}
			r.flush()
			if err := r.send(NAK); err != nil {
				return s.delivered, err
			}
			st = stateAwaitFirstByte

		case stateDone:
			duration := r.progress.Complete()
			r.logger.Info("Receive: complete, %d bytes in %v", s.delivered, duration)
			r.event(EventEndOfTransmission, int(s.expected), "transfer complete")
			r.callbacks.OnComplete(s.delivered, duration)
			return s.delivered, nil

		case stateCancelled:
			r.logger.Info("Receive: cancelled by peer after %d bytes", s.delivered)
			r.event(EventCancelled, int(s.expected), "cancelled by peer")
			return s.delivered, NewPacketError(ErrCancelled, "peer sent CAN CAN", int(s.expected))

		case stateSyncError:
			r.logger.Error("Receive: no packet from peer")
			r.flush()
			r.cancel()
			return s.delivered, NewPacketError(ErrSync, "peer not responding", int(s.expected))

		case stateRetransLimit:
			// The bad frame was read in full, nothing is left to drain.
			r.logger.Error("Receive: retransmit limit reached on packet %d", s.expected)
			r.event(EventError, int(s.expected), "retransmit limit")
			r.cancel()
			return s.delivered, NewPacketError(ErrRetransmitLimit,
				fmt.Sprintf("%d consecutive failures", r.config.MaxRetrans), int(s.expected))
		}
	}
}

// awaitFirstByte polls for and classifies the next start byte. While
// trychar is set the poll character is sent before every wait; the first
// packet fixes the session mode and stops polling.
func (r *Receiver) awaitFirstByte(ctx context.Context, s *session, trychar *byte) (state, int, error) {
	for {
		for retry := 0; retry < r.config.MaxHandshakeRetries; retry++ {
			if ctx.Err() != nil {
				// Receive sees the context and cancels.
				return stateAwaitFirstByte, 0, nil
			}
			if *trychar != 0 {
				r.event(EventHandshake, int(s.expected), fmt.Sprintf("poll %q", *trychar))
				if err := r.send(*trychar); err != nil {
					return stateAwaitFirstByte, 0, err
				}
			}

			b, err := r.link.ReadByteTimeout(r.config.FirstByteTimeout)
			if err != nil {
				if !isTimeout(err) {
					return stateAwaitFirstByte, 0, NewError(ErrIO, err.Error())
				}
				r.event(EventTimeout, int(s.expected), "no start byte")
				continue
			}

			kind := ClassifyStartByte(b)
			switch kind {
			case KindPacket128, KindPacket1024:
				if !s.modeFixed {
					if *trychar == WANTCRC {
						s.mode = ModeCRC
					}
					s.modeFixed = true
					r.logger.Info("Receive: peer answered, mode=%s", s.mode)
				}
				*trychar = 0
				return stateReadPayload, kind.PayloadSize(), nil

			case KindEndOfTransmission:
				r.flush()
				if err := r.send(ACK); err != nil {
					return stateAwaitFirstByte, 0, err
				}
				return stateDone, 0, nil

			case KindCancel:
				b2, err := r.link.ReadByteTimeout(r.config.CancelTimeout)
				if err == nil && b2 == CAN {
					r.flush()
					if err := r.send(ACK); err != nil {
						return stateAwaitFirstByte, 0, err
					}
					return stateCancelled, 0, nil
				}
				r.logger.Debug("Receive: lone CAN ignored")

			default:
				r.logger.Debug("Receive: ignoring byte %02x", b)
			}
		}

		if *trychar == WANTCRC {
			r.logger.Info("Receive: no answer to CRC poll, falling back to checksum")
			*trychar = NAK
			continue
		}
		return stateSyncError, 0, nil
	}
}

// deliver writes the part of payload that still fits in the declared size.
func (r *Receiver) deliver(s *session, payload []byte) error {
	keep := int64(len(payload))
	if rem := s.remaining(); rem < keep {
		keep = rem
	}
	if keep < 0 {
		keep = 0
	}

	if keep > 0 {
		data := payload[:keep]
		if _, err := s.t.Sink.WriteAt(data, s.t.Offset+s.delivered); err != nil {
			r.logger.Error("Receive: sink write at %d failed: %v", s.t.Offset+s.delivered, err)
			return NewPacketError(ErrIO, err.Error(), int(s.expected))
		}
		if s.t.Hash != nil {
			s.t.Hash.Write(data)
		}
		s.delivered += keep
	}

	r.logger.Debug("Receive: packet %d accepted, kept %d bytes, total %d", s.expected, keep, s.delivered)
	r.event(EventPacketAccepted, int(s.expected), fmt.Sprintf("kept %d bytes", keep))
	r.callbacks.OnPacket(s.expected, int(keep))
	r.progress.Update(s.delivered)

	s.expected++
	s.budget = r.config.MaxRetrans
	return nil
}

// flush discards input until the line has been idle for FlushTimeout.
func (r *Receiver) flush() {
	for {
		if _, err := r.link.ReadByteTimeout(r.config.FlushTimeout); err != nil {
			return
		}
	}
}

func (r *Receiver) send(b byte) error {
	if _, err := r.link.Write([]byte{b}); err != nil {
		r.logger.Error("Receive: write %02x failed: %v", b, err)
		return NewError(ErrIO, err.Error())
	}
	return nil
}

// cancel tells the peer to stop with three CAN bytes.
func (r *Receiver) cancel() {
	if _, err := r.link.Write(canSequence); err != nil {
		r.logger.Error("Receive: cancel write failed: %v", err)
	}
}

func (r *Receiver) event(t EventType, packet int, msg string) {
	r.callbacks.OnEvent(Event{
		Type:      t,
		Message:   msg,
		Packet:    packet,
		Timestamp: time.Now(),
	})
}

func startByteFor(size int) byte {
	if size == BlockSize1K {
		return STX
	}
	return SOH
}

func isTimeout(err error) bool {
	te, ok := err.(interface{ Timeout() bool })
	return ok && te.Timeout()
}
