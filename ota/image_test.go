package ota

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot.bin")
	img, err := OpenFileImage(path, 5000)
	require.NoError(t, err)
	require.Equal(t, int64(5000), img.Size())

	buf := make([]byte, 5000)
	_, err = img.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{ErasedByte}, 5000), buf)

	_, err = img.WriteAt([]byte("boot"), 4996)
	require.NoError(t, err)
	_, err = img.WriteAt([]byte("x"), 5000)
	require.Error(t, err)
	_, err = img.ReadAt(make([]byte, 2), 4999)
	require.Error(t, err)
	require.NoError(t, img.Sync())
	require.NoError(t, img.Close())

	img, err = OpenFileImage(path, 5000)
	require.NoError(t, err)
	defer img.Close()
	tail := make([]byte, 4)
	_, err = img.ReadAt(tail, 4996)
	require.NoError(t, err)
	require.Equal(t, "boot", string(tail))

	require.NoError(t, img.Erase())
	_, err = img.ReadAt(tail, 4996)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{ErasedByte}, 4), tail)
}

func TestMemImageBounds(t *testing.T) {
	img := NewMemImage(8)
	_, err := img.WriteAt([]byte{1, 2}, 7)
	require.Error(t, err)
	_, err = img.WriteAt([]byte{1, 2}, -1)
	require.Error(t, err)
	_, err = img.WriteAt([]byte{1, 2}, 1<<63-1)
	require.Error(t, err)
	_, err = img.ReadAt(make([]byte, 1), 1<<63-1)
	require.Error(t, err)
	_, err = img.WriteAt([]byte{1, 2}, 6)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 1, 2}, img.Bytes())
}

func TestSlotUpdater(t *testing.T) {
	dir := t.TempDir()
	backup := filepath.Join(dir, "previous.bin")
	require.NoError(t, os.WriteFile(backup, []byte("old firmware"), 0644))

	img := NewMemImage(32)
	fillImage(t, img, []byte("new firmware"))

	restarted := false
	u := &SlotUpdater{Image: img, BackupPath: backup, OnRestart: func() error {
		restarted = true
		return nil
	}}

	require.NoError(t, u.Rollback())
	require.Equal(t, "old firmware", string(img.Bytes()[:12]))
	require.Equal(t, byte(ErasedByte), img.Bytes()[12])

	require.NoError(t, u.Cancel())
	require.Equal(t, bytes.Repeat([]byte{ErasedByte}, 32), img.Bytes())

	require.NoError(t, u.Restart())
	require.True(t, restarted)

	require.Error(t, (&SlotUpdater{Image: img}).Rollback())
	require.Error(t, (&SlotUpdater{Image: img}).Restart())
}
