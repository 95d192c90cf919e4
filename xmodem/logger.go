package xmodem

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Logger receives protocol logs from Receiver and Sender.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// FileLogger appends timestamped lines to a file.
type FileLogger struct {
	mu    sync.Mutex
	w     io.WriteCloser
	debug bool
}

// NewFileLogger appends to path, creating it if needed. Debug lines are
// written too.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{w: f, debug: true}, nil
}

func (l *FileLogger) printf(level byte, format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%c%s %s\n", level, time.Now().Format("0102 15:04:05.000000"), fmt.Sprintf(format, args...))
}

func (l *FileLogger) Debug(format string, args ...interface{}) {
	if l != nil && l.debug {
		l.printf('D', format, args...)
	}
}

func (l *FileLogger) Info(format string, args ...interface{})  { l.printf('I', format, args...) }
func (l *FileLogger) Error(format string, args ...interface{}) { l.printf('E', format, args...) }

func (l *FileLogger) Close() error {
	if l == nil || l.w == nil {
		return nil
	}
	return l.w.Close()
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// GlogLogger routes protocol logs to glog. Debug lines need -v=2.
type GlogLogger struct{}

func (GlogLogger) Debug(format string, args ...interface{}) {
	if glog.V(2) {
		glog.InfoDepth(1, fmt.Sprintf(format, args...))
	}
}

func (GlogLogger) Info(format string, args ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
}

func (GlogLogger) Error(format string, args ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf(format, args...))
}

// FormatPacketLog describes one packet header.
func FormatPacketLog(direction string, start, seq, inv byte, size int, mode Mode) string {
	return fmt.Sprintf("%s %s seq=%d/%02x size=%d mode=%s",
		direction, ClassifyStartByte(start), seq, inv, size, mode)
}

// traceLimit caps how many bytes of one read or write are dumped.
const traceLimit = 32

// TraceLink wraps a Link and logs every byte crossing it at debug level.
type TraceLink struct {
	Link
	logger Logger
}

func NewTraceLink(link Link, logger Logger) *TraceLink {
	return &TraceLink{Link: link, logger: logger}
}

func (tl *TraceLink) ReadByteTimeout(timeout time.Duration) (byte, error) {
	b, err := tl.Link.ReadByteTimeout(timeout)
	if err == nil {
		tl.logger.Debug("rx %02x", b)
	}
	return b, err
}

func (tl *TraceLink) ReadFullTimeout(p []byte, timeout time.Duration) int {
	n := tl.Link.ReadFullTimeout(p, timeout)
	if n > 0 {
		tl.logger.Debug("rx %d/%d: %s", n, len(p), dump(p[:n]))
	}
	return n
}

func (tl *TraceLink) Write(p []byte) (int, error) {
	n, err := tl.Link.Write(p)
	if n > 0 {
		tl.logger.Debug("tx %d: %s", n, dump(p[:n]))
	}
	if err != nil {
		tl.logger.Error("tx failed: %v", err)
	}
	return n, err
}

func dump(p []byte) string {
	if len(p) > traceLimit {
		return hex.EncodeToString(p[:traceLimit]) + "..."
	}
	return hex.EncodeToString(p)
}
