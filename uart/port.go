package uart

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Port pairs the receive channel with the transmit side of a serial line.
type Port struct {
	*Channel

	mu sync.Mutex
	w  io.Writer
}

// NewPort returns a port that reads from c and writes to w.
func NewPort(c *Channel, w io.Writer) *Port {
	return &Port{Channel: c, w: w}
}

// Write sends p on the transmit side. Concurrent writes are serialised.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Write(b)
}

// Pump copies bytes from r into c until r fails or ctx is done, then closes
// c. io.EOF ends the pump without error; other read errors are wrapped.
//
// Pump is the producer side of the channel and should run in its own
// goroutine. A read blocked in r is not interrupted by ctx.
func Pump(ctx context.Context, r io.Reader, c *Channel) error {
	defer c.Close()

	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			c.PushBytes(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "uart: read")
		}
	}
}
