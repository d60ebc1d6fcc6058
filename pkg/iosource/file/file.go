// Package file implements iosource.Source over a local regular file or
// block device, detecting sparse (all-zero) blocks by scanning each
// block's bytes rather than trusting filesystem hole metadata.
package file

import (
	"bytes"
	"context"
	"os"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/iosource"
)

// Source reads and writes fixed-size blocks of a file, reporting a block
// as sparse when every byte read is zero.
type Source struct {
	f         *os.File
	size      int64
	blockSize int
}

// Open opens path for a backup source (read-only) or restore target
// (read-write, created empty if it doesn't exist). Open never resizes the
// file; OpenSized does.
func Open(path string, blockSize int, writable bool) (*Source, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o640)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "opening io source %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "statting io source %s", path)
	}
	return &Source{f: f, size: info.Size(), blockSize: blockSize}, nil
}

// OpenSized opens a writable target and ensures it is exactly size bytes,
// for a restore target that must be pre-sized before writing.
func OpenSized(path string, size int64, blockSize int) (*Source, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "opening io target %s", path)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "sizing io target %s", path)
	}
	return &Source{f: f, size: size, blockSize: blockSize}, nil
}

func (s *Source) Size() int64      { return s.size }
func (s *Source) BlockSize() int   { return s.blockSize }

func (s *Source) ReadBlock(ctx context.Context, idx int64) ([]byte, error) {
	offset := idx * int64(s.blockSize)
	if offset >= s.size {
		return nil, blockvaulterrors.InputDataf("block index %d is past end of source (size %d)", idx, s.size)
	}

	want := s.blockSize
	if remaining := s.size - offset; remaining < int64(want) {
		want = int(remaining)
	}

	buf := make([]byte, want)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && n != want {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInputData, err, "short read at block %d", idx)
	}

	if isAllZero(buf) {
		return nil, nil
	}
	if want < s.blockSize {
		padded := make([]byte, s.blockSize)
		copy(padded, buf)
		return padded, nil
	}
	return buf, nil
}

func (s *Source) WriteBlock(ctx context.Context, idx int64, data []byte) error {
	offset := idx * int64(s.blockSize)
	if _, err := s.f.WriteAt(data, offset); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "writing block %d", idx)
	}
	return nil
}

func (s *Source) Close() error { return s.f.Close() }

// isAllZero scans a block's bytes in page-sized runs, short-circuiting on
// the first nonzero byte.
func isAllZero(b []byte) bool {
	const pageSize = 4096
	zeros := make([]byte, pageSize)
	for len(b) > 0 {
		n := pageSize
		if n > len(b) {
			n = len(b)
		}
		if !bytes.Equal(b[:n], zeros[:n]) {
			return false
		}
		b = b[n:]
	}
	return true
}

var _ iosource.Source = (*Source)(nil)
