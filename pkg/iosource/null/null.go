// Package null implements a fixed-size, always-sparse iosource.Source:
// every block reads as nil (sparse), and writes are discarded unless the
// Source records them, in which case written blocks read back. Used in tests and as a restore target stand-in when only
// validating the read path.
package null

import (
	"context"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/iosource"
)

// Source is a fixed-size volume that reports every block sparse and
// discards writes, optionally recording them for inspection in tests.
type Source struct {
	size      int64
	blockSize int
	written   map[int64][]byte
	record    bool
}

// New builds a null Source of the given size. If record is true, writes
// are retained in memory and reflected back by ReadBlock.
func New(size int64, blockSize int, record bool) *Source {
	return &Source{size: size, blockSize: blockSize, written: make(map[int64][]byte), record: record}
}

func (s *Source) Size() int64    { return s.size }
func (s *Source) BlockSize() int { return s.blockSize }

func (s *Source) ReadBlock(ctx context.Context, idx int64) ([]byte, error) {
	offset := idx * int64(s.blockSize)
	if offset >= s.size {
		return nil, blockvaulterrors.InputDataf("block index %d is past end of source (size %d)", idx, s.size)
	}
	if s.record {
		if data, ok := s.written[idx]; ok {
			return data, nil
		}
	}
	return nil, nil
}

func (s *Source) WriteBlock(ctx context.Context, idx int64, data []byte) error {
	if s.record {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.written[idx] = cp
	}
	return nil
}

func (s *Source) Close() error { return nil }

var _ iosource.Source = (*Source)(nil)
