// Package ota drives firmware updates over a serial console.
//
// A Dispatcher reads one command per line from the operator (or a host
// tool), runs it against a staging Image and reports on the same line:
//
//	{u<len>[ <off>]     receive <len> bytes by XMODEM at <off>
//	{p[<len>[ <off>]]   print image bytes as hex
//	{h[<len>[ <off>]]   SHA-256 of image bytes
//	{s<hex>...          verify a signature over the last digest
//	{cancel {restart {back
//	{d<m|f><addr>[ <len>]
package ota

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/uartota/uartota/xmodem"
)

// Config holds dispatcher limits and timings.
type Config struct {
	LineTimeout      time.Duration // per character once a command started
	IdlePoll         time.Duration // wake interval while idle
	Echo             bool
	MaxLineLength    int
	SignLineWidth    int // hex characters per signature line
	MaxSignatureSize int // bytes
	ChunkSize        int // read-back chunk
	DefaultLength    int64
}

// DefaultConfig returns the console defaults.
func DefaultConfig() *Config {
	return &Config{
		LineTimeout:      5 * time.Second,
		IdlePoll:         time.Second,
		Echo:             true,
		MaxLineLength:    32,
		SignLineWidth:    64,
		MaxSignatureSize: 512,
		ChunkSize:        1024,
		DefaultLength:    256,
	}
}

// Result describes one processed command.
type Result struct {
	Command CommandType
	Detail  string
	Err     error
	Time    time.Time
}

// Dispatcher runs operator commands read from a serial link.
type Dispatcher struct {
	link     xmodem.Link
	image    Image
	verifier Verifier
	updater  Updater
	memory   io.ReaderAt

	config   *Config
	logger   xmodem.Logger
	xopts    []xmodem.Option
	onResult func(Result)

	// digest of the last upload or hash command, checked by sign
	digest []byte
	detail string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig sets the dispatcher configuration.
func WithConfig(config *Config) Option {
	return func(d *Dispatcher) {
		if config != nil {
			d.config = config
		}
	}
}

// WithLogger sets the logger shared with the transfer engine.
func WithLogger(logger xmodem.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithVerifier sets the signature verifier used by {s.
func WithVerifier(v Verifier) Option {
	return func(d *Dispatcher) {
		d.verifier = v
	}
}

// WithUpdater sets the handler for cancel, restart and rollback.
func WithUpdater(u Updater) Option {
	return func(d *Dispatcher) {
		d.updater = u
	}
}

// WithMemory sets the reader behind "{dm".
func WithMemory(r io.ReaderAt) Option {
	return func(d *Dispatcher) {
		d.memory = r
	}
}

// WithTransferOptions passes options to every XMODEM receiver.
func WithTransferOptions(opts ...xmodem.Option) Option {
	return func(d *Dispatcher) {
		d.xopts = append(d.xopts, opts...)
	}
}

// WithResultHook is called after every command.
func WithResultHook(fn func(Result)) Option {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}

// NewDispatcher creates a dispatcher that reads commands from link and
// stores uploads in image.
func NewDispatcher(link xmodem.Link, image Image, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		link:   link,
		image:  image,
		config: DefaultConfig(),
		logger: xmodem.NoopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Digest returns the digest of the last upload or hash command.
func (d *Dispatcher) Digest() []byte {
	return d.digest
}

// Serve processes commands until ctx is done or the link fails. Command
// errors are logged and reported through the result hook.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.logger.Info("ota: serving commands")
	for {
		cmd, err := d.Process(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsLinkError(err) {
			d.logger.Error("ota: %v", err)
			return err
		}

		switch {
		case IsConfirmation(err):
			d.logger.Debug("ota: %s ignored: %v", cmd, err)
		case err != nil:
			d.logger.Error("ota: cmd %s: %v", cmd, err)
		default:
			d.logger.Info("ota: cmd %s: %s", cmd, d.detail)
		}

		if d.onResult != nil {
			d.onResult(Result{Command: cmd, Detail: d.detail, Err: err, Time: time.Now()})
		}
	}
}

// Process reads and runs a single command.
func (d *Dispatcher) Process(ctx context.Context) (CommandType, error) {
	d.detail = ""

	c, err := d.readFirst(ctx)
	if err != nil {
		return CommandNone, err
	}
	if c != '{' {
		if c != '\n' {
			d.discardLine()
		}
		return CommandNone, newError(ErrPreamble, "line starts with %q", c)
	}

	tag, err := d.readChar(d.config.LineTimeout)
	if err != nil {
		return CommandNone, err
	}
	cmd, ok := commandTags[tag]
	if !ok {
		if tag != '\n' {
			d.discardLine()
		}
		return CommandNone, newError(ErrUnknownCommand, "tag %q", tag)
	}

	if cmd == CommandSign {
		return cmd, d.runSign()
	}

	line, err := d.readLine(d.config.MaxLineLength)
	if err != nil {
		return cmd, err
	}

	switch cmd {
	case CommandUpload:
		length, offset, err := ParseRange(line, -1)
		if err != nil {
			return cmd, err
		}
		return cmd, d.runUpload(ctx, length, offset)

	case CommandPrint, CommandHash:
		length, offset, err := ParseRange(line, d.config.DefaultLength)
		if err != nil {
			return cmd, err
		}
		if cmd == CommandPrint {
			return cmd, d.runPrint(length, offset)
		}
		return cmd, d.runHash(length, offset)

	case CommandCancel, CommandRestart, CommandRollback:
		if line != confirmWords[cmd] {
			return cmd, newError(ErrConfirmation, "%s needs %q, got %q", cmd, confirmWords[cmd], line)
		}
		return cmd, d.runUpdater(cmd)

	case CommandDebug:
		req, err := ParseDebug(line)
		if err != nil {
			return cmd, err
		}
		return cmd, d.runDebug(req)
	}
	return cmd, nil
}

func (d *Dispatcher) printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if _, err := io.WriteString(d.link, msg+"\r\n"); err != nil {
		d.logger.Error("ota: write reply: %v", err)
	}
	d.detail = msg
}

func (d *Dispatcher) runUpload(ctx context.Context, length, offset int64) error {
	if size := d.image.Size(); length > size || offset > size-length {
		return newError(ErrBadArgs, "upload %d+%d exceeds image size %d", offset, length, d.image.Size())
	}

	h := sha256.New()
	opts := append([]xmodem.Option{xmodem.WithLogger(d.logger)}, d.xopts...)
	rx := xmodem.NewReceiver(d.link, opts...)
	n, err := rx.Receive(ctx, &xmodem.Transfer{
		Size:   length,
		Offset: offset,
		Sink:   d.image,
		Hash:   h,
	})
	d.digest = h.Sum(nil)

	if err != nil {
		d.printf("upload failed after %d bytes: %v", n, err)
	} else {
		d.printf("upload: %d bytes", n)
	}
	d.printf("sha256: %x", d.digest)
	return err
}

// readBack passes [offset, offset+length) to fn in ChunkSize pieces, the
// final partial chunk read on its own.
func (d *Dispatcher) readBack(length, offset int64, fn func(pos int64, chunk []byte)) error {
	chunk := int64(d.config.ChunkSize)
	buf := make([]byte, chunk)
	full := length / chunk * chunk

	for pos := int64(0); pos < full; pos += chunk {
		if _, err := d.image.ReadAt(buf, offset+pos); err != nil {
			return errors.Wrapf(err, "read back at %d", offset+pos)
		}
		fn(offset+pos, buf)
	}
	if rem := length - full; rem > 0 {
		if _, err := d.image.ReadAt(buf[:rem], offset+full); err != nil {
			return errors.Wrapf(err, "read back at %d", offset+full)
		}
		fn(offset+full, buf[:rem])
	}
	return nil
}

func (d *Dispatcher) runPrint(length, offset int64) error {
	err := d.readBack(length, offset, func(pos int64, chunk []byte) {
		d.printf("Read[%d %d %d %d]: {%x}", offset, pos, len(chunk), length, chunk)
	})
	if err != nil {
		d.printf("read failed: %v", err)
	}
	return err
}

func (d *Dispatcher) runHash(length, offset int64) error {
	h := sha256.New()
	err := d.readBack(length, offset, func(_ int64, chunk []byte) {
		h.Write(chunk)
	})
	if err != nil {
		d.printf("read failed: %v", err)
		return err
	}
	d.digest = h.Sum(nil)
	d.printf("sha256: %x", d.digest)
	return nil
}

func (d *Dispatcher) runSign() error {
	sig, err := d.readSignature()
	if err != nil {
		d.printf("sign: %v", err)
		return err
	}
	if d.verifier == nil {
		d.printf("Get key fail")
		return errors.New("no verification key")
	}
	if d.digest == nil {
		d.printf("Sign check fail!")
		return errors.New("no digest to verify, run upload or hash first")
	}
	if err := d.verifier.Verify(d.digest, sig); err != nil {
		d.printf("Sign check fail!")
		return errors.Wrap(err, "sign")
	}
	d.printf("Sign check success!")
	return nil
}

func (d *Dispatcher) runUpdater(cmd CommandType) error {
	if d.updater == nil {
		d.printf("%s: not supported", cmd)
		return errors.Errorf("%s: no updater", cmd)
	}

	var err error
	switch cmd {
	case CommandCancel:
		err = d.updater.Cancel()
	case CommandRestart:
		err = d.updater.Restart()
	case CommandRollback:
		err = d.updater.Rollback()
	}
	if err != nil {
		d.printf("%s: %v", cmd, err)
		return err
	}
	d.printf("%s: ok", cmd)
	return nil
}

func (d *Dispatcher) runDebug(req *DebugRequest) error {
	src := io.ReaderAt(d.image)
	if req.Target == 'm' {
		src = d.memory
	}
	if src == nil {
		d.printf("Debug(%c): unavailable", req.Target)
		return errors.Errorf("debug target %c not configured", req.Target)
	}
	if req.Length > int64(d.config.ChunkSize) {
		return newError(ErrBadArgs, "debug length %d over %d", req.Length, d.config.ChunkSize)
	}

	buf := make([]byte, req.Length)
	n, err := src.ReadAt(buf, req.Addr)
	if err != nil && n < len(buf) {
		d.printf("Debug(%c): %v", req.Target, err)
		return errors.Wrapf(err, "debug read at %d", req.Addr)
	}
	d.printf("Debug(%c): %x", req.Target, buf)
	return nil
}
