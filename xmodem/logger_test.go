package xmodem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type recordLogger struct{ lines []string }

func (l *recordLogger) Debug(format string, args ...interface{}) {
	l.lines = append(l.lines, "D "+fmt.Sprintf(format, args...))
}
func (l *recordLogger) Info(format string, args ...interface{}) {
	l.lines = append(l.lines, "I "+fmt.Sprintf(format, args...))
}
func (l *recordLogger) Error(format string, args ...interface{}) {
	l.lines = append(l.lines, "E "+fmt.Sprintf(format, args...))
}

func TestTraceLink(t *testing.T) {
	rec := &recordLogger{}
	link := &scriptLink{in: []byte{0x01, 0x02, 0x03}}
	tl := NewTraceLink(link, rec)

	b, err := tl.ReadByteTimeout(0)
	require.NoError(t, err)
	require.Equal(t, byte(0x01), b)

	buf := make([]byte, 4)
	require.Equal(t, 2, tl.ReadFullTimeout(buf, 0))

	_, err = tl.ReadByteTimeout(0)
	require.Error(t, err)

	_, err = tl.Write([]byte{ACK})
	require.NoError(t, err)
	_, err = tl.Write(make([]byte, 40))
	require.NoError(t, err)

	require.Equal(t, []string{
		"D rx 01",
		"D rx 2/4: 0203",
		"D tx 1: 06",
		"D tx 40: " + strings.Repeat("00", traceLimit) + "...",
	}, rec.lines)
	require.Equal(t, append([]byte{ACK}, make([]byte, 40)...), link.out)
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xmodem.log")
	l, err := NewFileLogger(path)
	require.NoError(t, err)
	l.Debug("poll %c", WANTCRC)
	l.Error("packet %d", 3)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "D"))
	require.True(t, strings.HasSuffix(lines[0], " poll C"))
	require.True(t, strings.HasPrefix(lines[1], "E"))
	require.True(t, strings.HasSuffix(lines[1], " packet 3"))

	var nilLogger *FileLogger
	nilLogger.Info("dropped")
	require.NoError(t, nilLogger.Close())
}

func TestErrorHelpersSeeThroughWrap(t *testing.T) {
	err := errors.Wrap(NewPacketError(ErrCancelled, "peer", 4), "upload")
	require.True(t, IsCancelled(err))
	require.False(t, IsTimeout(err))
	require.Contains(t, err.Error(), "(packet 4)")
}
