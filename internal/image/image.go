// Package image implements the read-only byte view over a ROM image.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

var (
	_ io.ReaderAt = (*Image)(nil)

	// ErrOutOfBounds occurs when a read would exceed the image length.
	ErrOutOfBounds = errors.New("out of bounds")

	// errClosed occurs on any access after Close().
	errClosed = errors.New("image is closed")
)

// Image is a read-only, length-bounded view of a ROM image.
// When opened from a file the contents are memory-mapped, so no
// accessor ever blocks on anything other than page faults.
//
// All accessors are safe for concurrent use, but not concurrently
// with Close(), which must only be called once all readers are done.
type Image struct {
	path   string
	data   []byte
	mapped bool

	atime time.Time
	mtime time.Time
	ctime time.Time

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Open memory-maps the file at path as a new read-only [Image].
// You must call Close() once the image is no longer needed.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}
	defer f.Close()

	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, fmt.Errorf("failed to stat: %w", err)
	}

	img := &Image{path: path}
	img.atime, img.mtime, img.ctime = statTimes(&st)

	if st.Size == 0 {
		// Zero-length mappings are rejected by the kernel (EINVAL).
		return img, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap: %w", err)
	}
	img.data = data
	img.mapped = true

	return img, nil
}

// FromBytes returns an [Image] backed by b, with all timestamps set to t.
// The slice must not be modified for as long as the [Image] is in use.
func FromBytes(b []byte, t time.Time) *Image {
	return &Image{
		path:  "",
		data:  b,
		atime: t,
		mtime: t,
		ctime: t,
	}
}

// Path returns the path the image was opened from (empty if in-memory).
func (img *Image) Path() string {
	return img.path
}

// Len returns the image length in bytes.
func (img *Image) Len() int64 {
	return int64(len(img.data))
}

// Times returns the access, modification and change times of the
// backing file, which all virtual entries inherit as their own.
func (img *Image) Times() (atime, mtime, ctime time.Time) { //nolint:nonamedreturns
	return img.atime, img.mtime, img.ctime
}

// Bytes returns the n bytes starting at off, without copying.
// The returned slice is read-only and invalid after Close().
func (img *Image) Bytes(off, n int64) ([]byte, error) {
	if err := img.check(off, n); err != nil {
		return nil, err
	}

	return img.data[off : off+n : off+n], nil
}

// Uint8 returns the byte at off.
func (img *Image) Uint8(off int64) (uint8, error) {
	if err := img.check(off, 1); err != nil {
		return 0, err
	}

	return img.data[off], nil
}

// Uint16 returns the little-endian 16-bit value at off.
func (img *Image) Uint16(off int64) (uint16, error) {
	b, err := img.Bytes(off, 2) //nolint:mnd
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 returns the little-endian 32-bit value at off.
func (img *Image) Uint32(off int64) (uint32, error) {
	b, err := img.Bytes(off, 4) //nolint:mnd
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// ReadAt implements [io.ReaderAt] over the image contents.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfBounds, off)
	}
	if off >= img.Len() {
		return 0, io.EOF
	}

	n := copy(p, img.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// Close releases the mapping. It is safe to call more than once,
// but only the first call has an effect (and its result is kept).
func (img *Image) Close() error {
	img.closeOnce.Do(func() {
		img.closed.Store(true)

		data := img.data
		img.data = nil

		if img.mapped {
			if err := unix.Munmap(data); err != nil {
				img.closeErr = fmt.Errorf("failed to munmap: %w", err)
			}
		}
	})

	return img.closeErr
}

func (img *Image) check(off, n int64) error {
	if img.closed.Load() {
		return errClosed
	}
	if off < 0 || n < 0 || off > img.Len()-n {
		return fmt.Errorf("%w: [%#x, %#x) exceeds length %#x", ErrOutOfBounds, off, off+n, img.Len())
	}

	return nil
}
