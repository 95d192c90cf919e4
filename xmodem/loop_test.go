package xmodem

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/RoanBrand/goBuffers"
	"github.com/stretchr/testify/require"

	"github.com/uartota/uartota/uart"
)

// serialPair is a fake null-modem cable: two byte wires, each pumped into
// the receive channel of the opposite end.
type serialPair struct {
	device *uart.Port
	host   *uart.Port
}

func newSerialPair() *serialPair {
	toDevice := goBuffers.NewBlockingReadWriter()
	toHost := goBuffers.NewBlockingReadWriter()

	deviceRx := uart.NewChannel(uart.DefaultCapacity)
	hostRx := uart.NewChannel(uart.DefaultCapacity)
	go uart.Pump(context.Background(), toDevice, deviceRx)
	go uart.Pump(context.Background(), toHost, hostRx)

	return &serialPair{
		device: uart.NewPort(deviceRx, toHost),
		host:   uart.NewPort(hostRx, toDevice),
	}
}

func loopConfig(use1K bool) *Config {
	c := DefaultConfig()
	c.FirstByteTimeout = 200 * time.Millisecond
	c.CancelTimeout = 100 * time.Millisecond
	c.PacketTimeout = time.Second
	c.FlushTimeout = 20 * time.Millisecond
	c.Use1K = use1K
	return c
}

func TestSendReceiveLoop(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		use1K bool
	}{
		{"128 byte blocks", 700, false},
		{"1k blocks with short tail", 3000, true},
		{"exact 1k multiple", 2048, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := newSerialPair()
			data := pattern(tt.size)
			sink := newMemSink(tt.size + BlockSize1K)
			h := sha256.New()

			type result struct {
				n   int64
				err error
			}
			done := make(chan result, 1)
			go func() {
				rx := NewReceiver(pair.device, WithConfig(loopConfig(tt.use1K)))
				n, err := rx.Receive(context.Background(), &Transfer{Size: int64(tt.size), Sink: sink, Hash: h})
				done <- result{n, err}
			}()

			tx := NewSender(pair.host, WithConfig(loopConfig(tt.use1K)))
			sent, err := tx.Send(context.Background(), bytes.NewReader(data), int64(tt.size))
			require.NoError(t, err)
			require.Equal(t, int64(tt.size), sent)

			select {
			case res := <-done:
				require.NoError(t, res.err)
				require.Equal(t, int64(tt.size), res.n)
			case <-time.After(5 * time.Second):
				t.Fatal("receiver did not finish")
			}

			require.Equal(t, data, sink.buf[:tt.size])
			want := sha256.Sum256(data)
			require.Equal(t, want[:], h.Sum(nil))
		})
	}
}

func TestSendCancelledByReceiver(t *testing.T) {
	link := &scriptLink{in: []byte{CAN, CAN}}
	tx := NewSender(link, WithConfig(testConfig()))
	_, err := tx.Send(context.Background(), bytes.NewReader(pattern(10)), 10)
	require.True(t, IsCancelled(err), "got %v", err)
}

func TestSendGivesUpAfterNaks(t *testing.T) {
	link := &scriptLink{in: []byte{WANTCRC}}
	link.peer = func(l *scriptLink, p []byte) {
		if len(p) > 3 {
			l.in = append(l.in, NAK)
		}
	}
	cfg := testConfig()
	cfg.MaxRetrans = 3
	tx := NewSender(link, WithConfig(cfg))
	_, err := tx.Send(context.Background(), bytes.NewReader(pattern(10)), 10)
	require.Error(t, err)
	require.Equal(t, ErrNakLimit, err.(*Error).Type)
	require.Equal(t, []byte{CAN, CAN, CAN}, link.out[len(link.out)-3:])
}
