package uart

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/RoanBrand/goBuffers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestChannelCapacityRoundsUp(t *testing.T) {
	require.Equal(t, 256, NewChannel(256).Cap())
	require.Equal(t, 256, NewChannel(200).Cap())
	require.Equal(t, 2, NewChannel(0).Cap())
}

func TestChannelPreservesOrder(t *testing.T) {
	c := NewChannel(16)
	c.PushBytes([]byte("hello"))
	require.Equal(t, 5, c.Buffered())

	var got []byte
	for i := 0; i < 5; i++ {
		b, err := c.ReadByteTimeout(time.Second)
		require.NoError(t, err)
		got = append(got, b)
	}
	require.Equal(t, "hello", string(got))
	require.Equal(t, 0, c.Buffered())
}

func TestChannelReadTimeout(t *testing.T) {
	c := NewChannel(16)
	start := time.Now()
	_, err := c.ReadByteTimeout(20 * time.Millisecond)
	require.Equal(t, ErrTimeout, err)
	require.True(t, time.Since(start) >= 20*time.Millisecond)

	te, ok := err.(interface{ Timeout() bool })
	require.True(t, ok)
	require.True(t, te.Timeout())
}

func TestChannelReadWakesOnPush(t *testing.T) {
	c := NewChannel(16)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Push('x')
	}()
	b, err := c.ReadByteTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte('x'), b)
}

func TestChannelOverrunDropsNewest(t *testing.T) {
	c := NewChannel(4)
	c.PushBytes([]byte{1, 2, 3, 4, 5})

	require.Equal(t, 3, c.Buffered())
	require.Equal(t, uint64(2), c.Dropped())

	p := make([]byte, 3)
	require.Equal(t, 3, c.ReadFullTimeout(p, 0))
	require.Equal(t, []byte{1, 2, 3}, p)
}

func TestChannelWrapsAround(t *testing.T) {
	c := NewChannel(8)
	var want, got []byte
	for round := 0; round < 10; round++ {
		chunk := []byte{byte(round), byte(round + 1), byte(round + 2), byte(round + 3), byte(round + 4)}
		want = append(want, chunk...)
		c.PushBytes(chunk)
		p := make([]byte, len(chunk))
		require.Equal(t, len(chunk), c.ReadFullTimeout(p, time.Second))
		got = append(got, p...)
	}
	require.Equal(t, want, got)
	require.Zero(t, c.Dropped())
}

func TestChannelReadFullDrainsThenFills(t *testing.T) {
	c := NewChannel(16)
	c.PushBytes([]byte("abc"))

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.PushBytes([]byte("defgh"))
	}()

	p := make([]byte, 6)
	n := c.ReadFullTimeout(p, time.Second)
	require.Equal(t, 6, n)
	require.Equal(t, "abcdef", string(p))

	// Bytes past the fill go back to the ring.
	require.Eventually(t, func() bool { return c.Buffered() == 2 }, time.Second, time.Millisecond)
	rest := make([]byte, 2)
	require.Equal(t, 2, c.ReadFullTimeout(rest, time.Second))
	require.Equal(t, "gh", string(rest))
}

func TestChannelReadFullLargerThanRing(t *testing.T) {
	c := NewChannel(8)
	payload := bytes.Repeat([]byte{0xA5, 0x5A}, 600)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.PushBytes(payload)
	}()

	p := make([]byte, len(payload))
	require.Equal(t, len(payload), c.ReadFullTimeout(p, time.Second))
	require.Equal(t, payload, p)
	require.Zero(t, c.Dropped())
}

func TestChannelReadFullShortOnTimeout(t *testing.T) {
	c := NewChannel(16)
	c.PushBytes([]byte("ab"))

	p := make([]byte, 4)
	n := c.ReadFullTimeout(p, 20*time.Millisecond)
	require.Equal(t, 2, n)

	// The fill is disarmed, later bytes are buffered again.
	c.Push('z')
	b, err := c.ReadByteTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte('z'), b)
}

func TestChannelClose(t *testing.T) {
	c := NewChannel(16)
	c.Push('a')

	done := make(chan error, 1)
	go func() {
		_, _ = c.ReadByteTimeout(0)
		_, err := c.ReadByteTimeout(0)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		require.Equal(t, ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("reader not woken by Close")
	}

	c.Push('b')
	require.Equal(t, 0, c.Buffered())
}

func TestChannelReset(t *testing.T) {
	c := NewChannel(16)
	c.PushBytes([]byte("stale"))
	c.Reset()
	require.Equal(t, 0, c.Buffered())
}

func TestPumpFeedsChannel(t *testing.T) {
	wire := goBuffers.NewBlockingReadWriter()
	c := NewChannel(DefaultCapacity)
	go Pump(context.Background(), wire, c)

	_, err := wire.Write([]byte("{u100 0\n"))
	require.NoError(t, err)

	p := make([]byte, 8)
	require.Equal(t, 8, c.ReadFullTimeout(p, time.Second))
	require.Equal(t, "{u100 0\n", string(p))
}

func TestPumpClosesOnEOF(t *testing.T) {
	c := NewChannel(16)
	err := Pump(context.Background(), bytes.NewReader([]byte("ok")), c)
	require.NoError(t, err)

	p := make([]byte, 2)
	require.Equal(t, 2, c.ReadFullTimeout(p, time.Second))
	_, err = c.ReadByteTimeout(time.Second)
	require.Equal(t, ErrClosed, err)
}

func TestPortWrite(t *testing.T) {
	var out bytes.Buffer
	p := NewPort(NewChannel(16), &out)
	_, err := p.Write([]byte{0x06})
	require.NoError(t, err)
	require.Equal(t, []byte{0x06}, out.Bytes())
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestPumpWrapsReadError(t *testing.T) {
	lost := errors.New("device unplugged")
	c := NewChannel(16)
	err := Pump(context.Background(), failingReader{lost}, c)
	require.Error(t, err)
	require.Equal(t, lost, errors.Cause(err))
	require.Contains(t, err.Error(), "uart: read")

	_, err = c.ReadByteTimeout(time.Millisecond)
	require.Equal(t, ErrClosed, err)
}

func TestChannelUnread(t *testing.T) {
	c := NewChannel(4)
	c.PushBytes([]byte{'a', 'b'})

	b, err := c.ReadByteTimeout(time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, byte('a'), b)
	require.True(t, c.Unread(b))

	buf := make([]byte, 2)
	require.Equal(t, 2, c.ReadFullTimeout(buf, 0))
	require.Equal(t, []byte("ab"), buf)

	c.PushBytes([]byte{1, 2, 3})
	require.False(t, c.Unread('x'))
	require.Equal(t, uint64(1), c.Dropped())
}
