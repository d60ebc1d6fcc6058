// Package compression implements the Zstd compression transform stage.
package compression

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/transform"
)

const (
	Name   = "compression"
	Module = "zstd"
)

// Zstd is a compression transform. encapsulate declines (returns nil, nil)
// when the compressed size is not smaller than the plaintext, so the
// engine stores the block uncompressed instead.
type Zstd struct {
	level      zstd.EncoderLevel
	dictionary []byte

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds a Zstd transform at the given level (1..22, mapped onto the
// library's speed/compression presets) with an optional shared dictionary.
func New(level int, dictionary []byte) (*Zstd, error) {
	if level < 1 || level > 22 {
		return nil, blockvaulterrors.Configurationf("zstd level %d out of range [1,22]", level)
	}

	encOpts := []zstd.EOption{zstd.WithEncoderLevel(mapLevel(level))}
	decOpts := []zstd.DOption{}
	if len(dictionary) > 0 {
		encOpts = append(encOpts, zstd.WithEncoderDict(dictionary))
		decOpts = append(decOpts, zstd.WithDecoderDicts(dictionary))
	}

	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "building zstd encoder")
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "building zstd decoder")
	}

	return &Zstd{level: mapLevel(level), dictionary: dictionary, encoder: enc, decoder: dec}, nil
}

// mapLevel maps the spec's 1..22 level range onto the library's four
// speed/ratio presets, which is all the zstd library exposes directly.
func mapLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (z *Zstd) Name() string   { return Name }
func (z *Zstd) Module() string { return Module }

func (z *Zstd) Encapsulate(plaintext []byte) ([]byte, transform.Materials, error) {
	z.mu.Lock()
	compressed := z.encoder.EncodeAll(plaintext, nil)
	z.mu.Unlock()

	if len(compressed) >= len(plaintext) {
		return nil, nil, nil
	}
	return compressed, transform.Materials{"original_size": len(plaintext)}, nil
}

func (z *Zstd) Decapsulate(ciphertext []byte, materials transform.Materials) ([]byte, error) {
	originalSize, err := materialInt(materials, "original_size")
	if err != nil {
		return nil, err
	}

	z.mu.Lock()
	plaintext, err := z.decoder.DecodeAll(ciphertext, make([]byte, 0, originalSize))
	z.mu.Unlock()
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInputData, err, "zstd decode failed")
	}
	if len(plaintext) != originalSize {
		return nil, blockvaulterrors.InputDataf("zstd decoded %d bytes, expected %d", len(plaintext), originalSize)
	}
	return plaintext, nil
}

func materialInt(materials transform.Materials, key string) (int, error) {
	v, ok := materials[key]
	if !ok {
		return 0, blockvaulterrors.Internalf("missing %q in compression materials", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, blockvaulterrors.Internalf("unexpected type %T for %q", v, key)
	}
}

// Close releases the encoder/decoder goroutines.
func (z *Zstd) Close() {
	z.encoder.Close()
	z.decoder.Close()
}
