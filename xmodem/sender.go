package xmodem

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Sender handles sending one image using the XMODEM protocol.
// It is the host-side peer of Receiver.
type Sender struct {
	link      Link
	config    *Config
	callbacks *Callbacks
	logger    Logger
	progress  *ProgressTracker
}

// NewSender creates a new XMODEM sender on link.
func NewSender(link Link, opts ...Option) *Sender {
	s := newSettings(opts)
	snd := &Sender{
		link:      link,
		config:    s.config,
		callbacks: s.callbacks,
		logger:    s.logger,
	}
	snd.progress = NewProgressTracker(snd.callbacks.OnProgress, s.config.ProgressInterval)
	return snd
}

// Send waits for the receiver's poll, streams r as numbered blocks and
// finishes with EOT. total is only used for progress reporting. It returns
// the number of payload bytes acknowledged by the receiver.
func (s *Sender) Send(ctx context.Context, r io.Reader, total int64) (int64, error) {
	mode, err := s.awaitPoll(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Send: receiver ready, mode=%s 1k=%v", mode, s.config.Use1K)
	s.purge()
	s.progress.Start(total)

	blockLen := BlockSize
	if s.config.Use1K {
		blockLen = BlockSize1K
	}
	block := make([]byte, blockLen)
	seq := byte(1)
	var sent int64

	for {
		n, rerr := io.ReadFull(r, block)
		last := rerr == io.EOF || rerr == io.ErrUnexpectedEOF
		if rerr != nil && !last {
			s.cancel()
			return sent, NewError(ErrIO, rerr.Error())
		}
		if n == 0 {
			break
		}

		// A short tail that fits a 128 byte block goes out as SOH.
		use1K := s.config.Use1K && n > BlockSize
		frame := EncodePacket(seq, block[:n], use1K, mode, CPMEOF)
		if err := s.sendBlock(ctx, seq, frame); err != nil {
			return sent, err
		}

		sent += int64(n)
		s.progress.Update(sent)
		s.callbacks.OnPacket(seq, n)
		seq++

		if last {
			break
		}
	}

	if err := s.sendEOT(ctx); err != nil {
		return sent, err
	}
	duration := s.progress.Complete()
	s.logger.Info("Send: complete, %d bytes in %v", sent, duration)
	s.callbacks.OnComplete(sent, duration)
	return sent, nil
}

// awaitPoll waits for 'C' (CRC mode) or NAK (checksum mode).
func (s *Sender) awaitPoll(ctx context.Context) (Mode, error) {
	for tries := 0; tries < s.config.MaxHandshakeRetries; tries++ {
		if err := ctx.Err(); err != nil {
			return ModeChecksum, err
		}
		b, err := s.link.ReadByteTimeout(s.config.PacketTimeout)
		if err != nil {
			if isTimeout(err) {
				s.logger.Debug("Send: waiting for receiver")
				continue
			}
			return ModeChecksum, NewError(ErrIO, err.Error())
		}
		switch b {
		case WANTCRC:
			return ModeCRC, nil
		case NAK:
			return ModeChecksum, nil
		case CAN:
			if s.peerCancelled() {
				return ModeChecksum, NewError(ErrCancelled, "receiver sent CAN CAN")
			}
		default:
			s.logger.Debug("Send: ignoring %02x while waiting for poll", b)
		}
	}
	return ModeChecksum, NewError(ErrSync, "no poll from receiver")
}

// sendBlock transmits frame until it is acknowledged.
func (s *Sender) sendBlock(ctx context.Context, seq byte, frame []byte) error {
	for tries := 0; tries < s.config.MaxRetrans; tries++ {
		if err := ctx.Err(); err != nil {
			s.cancel()
			return err
		}
		if _, err := s.link.Write(frame); err != nil {
			return NewPacketError(ErrIO, err.Error(), int(seq))
		}

		reply, err := s.awaitReply(seq)
		if err != nil {
			return err
		}
		if reply == ACK {
			return nil
		}
		s.logger.Error("Send: block %d not acknowledged, retry %d", seq, tries+1)
		s.event(EventNak, int(seq), "block rejected")
	}
	s.cancel()
	return NewPacketError(ErrNakLimit, fmt.Sprintf("block rejected %d times", s.config.MaxRetrans), int(seq))
}

// awaitReply returns ACK, or NAK for anything that asks for a resend.
func (s *Sender) awaitReply(seq byte) (byte, error) {
	for {
		b, err := s.link.ReadByteTimeout(s.config.PacketTimeout)
		if err != nil {
			if isTimeout(err) {
				return NAK, nil
			}
			return 0, NewPacketError(ErrIO, err.Error(), int(seq))
		}
		switch b {
		case ACK, NAK:
			return b, nil
		case CAN:
			if s.peerCancelled() {
				return 0, NewPacketError(ErrCancelled, "receiver sent CAN CAN", int(seq))
			}
		default:
			// Late polls from the handshake are dropped here.
			s.logger.Debug("Send: ignoring %02x after block %d", b, seq)
		}
	}
}

func (s *Sender) sendEOT(ctx context.Context) error {
	for tries := 0; tries < s.config.MaxRetrans; tries++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.link.Write([]byte{EOT}); err != nil {
			return NewError(ErrIO, err.Error())
		}
		// The receiver flushes the line before acknowledging EOT.
	reply:
		for {
			b, err := s.link.ReadByteTimeout(s.config.PacketTimeout + s.config.FlushTimeout)
			switch {
			case err != nil && isTimeout(err):
				break reply
			case err != nil:
				return NewError(ErrIO, err.Error())
			case b == ACK:
				return nil
			case b == NAK:
				break reply
			}
		}
	}
	return NewError(ErrNakLimit, "EOT not acknowledged")
}

func (s *Sender) peerCancelled() bool {
	b, err := s.link.ReadByteTimeout(s.config.CancelTimeout)
	return err == nil && b == CAN
}

// purge drops whatever is already buffered, such as repeated polls.
func (s *Sender) purge() {
	buf := make([]byte, 64)
	for s.link.ReadFullTimeout(buf, 0) > 0 {
	}
}

func (s *Sender) cancel() {
	if _, err := s.link.Write(canSequence); err != nil {
		s.logger.Error("Send: cancel write failed: %v", err)
	}
}

func (s *Sender) event(t EventType, packet int, msg string) {
	s.callbacks.OnEvent(Event{
		Type:      t,
		Message:   msg,
		Packet:    packet,
		Timestamp: time.Now(),
	})
}
