// Package uart implements the receive side of a serial line: a fixed-size
// byte ring filled by a producer goroutine and drained by a single consumer
// with per-call deadlines.
//
// The producer stands in for the RX interrupt of an embedded UART driver.
// It calls Push for every received byte and never blocks beyond a short
// critical section. The consumer either takes bytes one at a time with
// ReadByteTimeout or asks for a whole block with ReadFullTimeout, which arms
// a direct fill so that bytes arriving after the call skip the ring and land
// in the caller's buffer.
package uart

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultCapacity is the ring size used for hosted serial ports.
const DefaultCapacity = 4096

var (
	// ErrTimeout is returned when no byte arrives before the deadline.
	ErrTimeout error = timeoutError{}

	// ErrClosed is returned once the channel is closed and drained.
	ErrClosed = errors.New("uart: channel closed")
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "uart: read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// directFill is a consumer buffer that the producer writes into directly.
type directFill struct {
	buf []byte
	n   int
}

// Channel is a single-producer, single-consumer byte ring.
// The ring is empty when start == end, so capacity-1 bytes are usable.
type Channel struct {
	mu    sync.Mutex
	buf   []byte
	mask  int
	start int
	end   int
	fill  *directFill

	// notify carries at most one pending "data available" signal.
	notify chan struct{}
	done   chan struct{}
	closed bool

	dropped uint64
}

// NewChannel creates a channel whose ring holds capacity bytes, rounded up
// to a power of two.
func NewChannel(capacity int) *Channel {
	size := 2
	for size < capacity {
		size <<= 1
	}
	return &Channel{
		buf:    make([]byte, size),
		mask:   size - 1,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// signal must be called with mu held.
func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Push appends one received byte. If a direct fill is armed the byte goes to
// the fill buffer and the consumer is woken only once the fill is complete.
// A byte arriving while the ring is full is dropped and counted.
func (c *Channel) Push(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if f := c.fill; f != nil {
		f.buf[f.n] = b
		f.n++
		if f.n == len(f.buf) {
			c.fill = nil
			c.signal()
		}
		return
	}

	next := (c.end + 1) & c.mask
	if next == c.start {
		c.dropped++
		return
	}
	c.buf[c.end] = b
	c.end = next
	c.signal()
}

// PushBytes pushes every byte of p in order.
func (c *Channel) PushBytes(p []byte) {
	for _, b := range p {
		c.Push(b)
	}
}

// ReadByteTimeout removes the oldest byte, waiting up to timeout for one to
// arrive. A timeout <= 0 waits until a byte arrives or the channel closes.
func (c *Channel) ReadByteTimeout(timeout time.Duration) (byte, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		c.mu.Lock()
		if c.start != c.end {
			b := c.buf[c.start]
			c.start = (c.start + 1) & c.mask
			c.mu.Unlock()
			return b, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return 0, ErrClosed
		}

		// Wakeups may be stale; the emptiness check above decides.
		select {
		case <-c.notify:
		case <-c.done:
		case <-deadline:
			return 0, ErrTimeout
		}
	}
}

// ReadFullTimeout fills p, first from buffered bytes and then by direct
// fill, until p is full, timeout elapses or the channel closes. It returns
// the number of bytes stored; a short count means the deadline passed.
// A timeout <= 0 only drains what is already buffered.
func (c *Channel) ReadFullTimeout(p []byte, timeout time.Duration) int {
	c.mu.Lock()
	n := c.drainLocked(p)
	if n == len(p) || timeout <= 0 || c.closed {
		c.mu.Unlock()
		return n
	}

	f := &directFill{buf: p[n:]}
	// Clear any pending signal before arming so the wake below means
	// the fill completed.
	select {
	case <-c.notify:
	default:
	}
	c.fill = f
	c.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

wait:
	for {
		select {
		case <-c.notify:
			c.mu.Lock()
			complete := f.n == len(f.buf)
			c.mu.Unlock()
			if complete {
				break wait
			}
		case <-c.done:
			break wait
		case <-t.C:
			break wait
		}
	}

	c.mu.Lock()
	if c.fill == f {
		c.fill = nil
	}
	got := f.n
	c.mu.Unlock()
	return n + got
}

func (c *Channel) drainLocked(p []byte) int {
	n := 0
	for n < len(p) && c.start != c.end {
		p[n] = c.buf[c.start]
		c.start = (c.start + 1) & c.mask
		n++
	}
	return n
}

// Buffered returns the number of bytes waiting in the ring.
func (c *Channel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return (c.end - c.start) & c.mask
}

// Cap returns the ring size. One slot is always kept free.
func (c *Channel) Cap() int {
	return len(c.buf)
}

// Dropped returns how many bytes were discarded because the ring was full.
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Unread puts b back in front of the buffered bytes so the next read returns
// it. It reports false, counting a drop, when the ring is full.
func (c *Channel) Unread(b byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := (c.start - 1) & c.mask
	if prev == c.end {
		c.dropped++
		return false
	}
	c.start = prev
	c.buf[prev] = b
	c.signal()
	return true
}

// Reset discards all buffered bytes.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.start = c.end
	c.mu.Unlock()
}

// Close stops accepting bytes and wakes any waiting reader. Bytes already
// buffered can still be read.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.fill = nil
	close(c.done)
	return nil
}
