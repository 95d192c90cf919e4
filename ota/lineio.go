package ota

import (
	"context"
	"encoding/hex"
	"time"
)

const (
	backspace = 0x08
	del       = 0x7f
)

func isTimeout(err error) bool {
	te, ok := err.(interface{ Timeout() bool })
	return ok && te.Timeout()
}

// readChar reads one operator byte within timeout and echoes it.
func (d *Dispatcher) readChar(timeout time.Duration) (byte, error) {
	b, err := d.link.ReadByteTimeout(timeout)
	if err != nil {
		if isTimeout(err) {
			return 0, newError(ErrTimeout, "no input for %v", timeout)
		}
		return 0, newError(ErrLink, "%v", err)
	}
	if d.config.Echo {
		d.echo(b)
	}
	return b, nil
}

func (d *Dispatcher) echo(b byte) {
	out := []byte{b}
	if b == del {
		out = []byte{backspace, ' ', backspace}
	}
	if _, err := d.link.Write(out); err != nil {
		d.logger.Error("echo failed: %v", err)
	}
}

// readFirst waits without a deadline for the first byte of a command,
// waking every IdlePoll to notice ctx.
func (d *Dispatcher) readFirst(ctx context.Context) (byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b, err := d.readChar(d.config.IdlePoll)
		if IsTimeout(err) {
			continue
		}
		return b, err
	}
}

// readLine reads up to '\n'. CR is dropped and BS or DEL erases the
// previous character. Lines longer than max are consumed and rejected.
func (d *Dispatcher) readLine(max int) (string, error) {
	buf := make([]byte, 0, max)
	overflow := false
	for {
		b, err := d.readChar(d.config.LineTimeout)
		if err != nil {
			return "", err
		}
		switch b {
		case '\r':
			continue
		case '\n':
			if overflow {
				return "", newError(ErrBadArgs, "line longer than %d characters", max)
			}
			return string(buf), nil
		case backspace, del:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
			}
			continue
		}
		if len(buf) >= max {
			overflow = true
			continue
		}
		buf = append(buf, b)
	}
}

// discardLine drops input up to the end of the current line.
func (d *Dispatcher) discardLine() {
	for {
		b, err := d.link.ReadByteTimeout(d.config.LineTimeout)
		if err != nil || b == '\n' {
			return
		}
	}
}

// readSignature reads hex lines of SignLineWidth characters. A shorter
// line, possibly empty, ends the signature.
func (d *Dispatcher) readSignature() ([]byte, error) {
	var sig []byte
	for {
		line, err := d.readLine(d.config.SignLineWidth)
		if err != nil {
			return nil, err
		}
		part, err := hex.DecodeString(line)
		if err != nil {
			return nil, newError(ErrBadArgs, "signature: %v", err)
		}
		if len(sig)+len(part) > d.config.MaxSignatureSize {
			return nil, newError(ErrBadArgs, "signature longer than %d bytes", d.config.MaxSignatureSize)
		}
		sig = append(sig, part...)
		if len(line) < d.config.SignLineWidth {
			break
		}
	}
	if len(sig) == 0 {
		return nil, newError(ErrBadArgs, "empty signature")
	}
	return sig, nil
}
