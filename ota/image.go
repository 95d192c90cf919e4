package ota

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ErasedByte is the value of an erased flash cell.
const ErasedByte = 0xFF

// Image is the firmware staging area uploads are written to.
type Image interface {
	io.ReaderAt
	io.WriterAt

	// Size is the capacity of the region in bytes.
	Size() int64

	// Erase resets every byte to ErasedByte.
	Erase() error
}

var errOutOfRange = errors.New("access outside image")

func checkRange(off int64, n int, size int64) error {
	if off < 0 || off > size || int64(n) > size-off {
		return errors.Wrapf(errOutOfRange, "offset %d length %d size %d", off, n, size)
	}
	return nil
}

// FileImage is an Image backed by a regular file of fixed size.
type FileImage struct {
	f    *os.File
	size int64
}

// OpenFileImage opens or creates path as an image of size bytes. A new or
// shorter file is extended with erased bytes.
func OpenFileImage(path string, size int64) (*FileImage, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat image")
	}

	img := &FileImage{f: f, size: size}
	if cur := st.Size(); cur < size {
		if err := img.fill(cur, size-cur); err != nil {
			f.Close()
			return nil, err
		}
	}
	return img, nil
}

func (img *FileImage) fill(off, n int64) error {
	block := bytes.Repeat([]byte{ErasedByte}, 4096)
	for n > 0 {
		chunk := block
		if n < int64(len(chunk)) {
			chunk = chunk[:n]
		}
		if _, err := img.f.WriteAt(chunk, off); err != nil {
			return errors.Wrapf(err, "erase image at %d", off)
		}
		off += int64(len(chunk))
		n -= int64(len(chunk))
	}
	return nil
}

func (img *FileImage) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), img.size); err != nil {
		return 0, err
	}
	n, err := img.f.ReadAt(p, off)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	return n, errors.Wrap(err, "read image")
}

func (img *FileImage) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), img.size); err != nil {
		return 0, err
	}
	n, err := img.f.WriteAt(p, off)
	return n, errors.Wrap(err, "write image")
}

func (img *FileImage) Size() int64 { return img.size }

func (img *FileImage) Erase() error {
	return img.fill(0, img.size)
}

// Sync flushes written data to stable storage.
func (img *FileImage) Sync() error {
	return errors.Wrap(img.f.Sync(), "sync image")
}

func (img *FileImage) Close() error {
	return img.f.Close()
}

// MemImage is an Image held in memory.
type MemImage struct {
	mu  sync.Mutex
	buf []byte
}

// NewMemImage returns an erased in-memory image of size bytes.
func NewMemImage(size int) *MemImage {
	return &MemImage{buf: bytes.Repeat([]byte{ErasedByte}, size)}
}

func (m *MemImage) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(off, len(p), int64(len(m.buf))); err != nil {
		return 0, err
	}
	return copy(p, m.buf[off:]), nil
}

func (m *MemImage) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(off, len(p), int64(len(m.buf))); err != nil {
		return 0, err
	}
	return copy(m.buf[off:], p), nil
}

func (m *MemImage) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.buf))
}

func (m *MemImage) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.buf {
		m.buf[i] = ErasedByte
	}
	return nil
}

// Bytes returns a copy of the image contents.
func (m *MemImage) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}
