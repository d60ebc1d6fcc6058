package encryption

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
)

// defaultIV is the RFC 3394 integrity-check value prepended to every
// wrapped key. Unwrap fails if the recovered value does not match it.
var defaultIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// wrapKey implements RFC 3394 AES key wrap: wraps a plaintext key (a
// multiple of 8 bytes, at least 16) under kek. No third-party library in
// the retrieved examples implements this algorithm; built directly on
// crypto/aes per RFC 3394 §2.2.1.
func wrapKey(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext)%8 != 0 || len(plaintext) < 16 {
		return nil, blockvaulterrors.Internalf("key wrap input must be a multiple of 8 bytes, >= 16, got %d", len(plaintext))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "building key-wrap cipher")
	}

	n := len(plaintext) / 8
	r := make([][8]byte, n+1)
	copy(r[0][:], defaultIV[:])
	for i := 0; i < n; i++ {
		copy(r[i+1][:], plaintext[i*8:(i+1)*8])
	}

	var buf [16]byte
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], r[0][:])
			copy(buf[8:], r[i][:])
			block.Encrypt(buf[:], buf[:])

			t := uint64(n*j + i)
			var tb [8]byte
			binary.BigEndian.PutUint64(tb[:], t)
			for k := range r[0] {
				r[0][k] = buf[k] ^ tb[k]
			}
			copy(r[i][:], buf[8:])
		}
	}

	out := make([]byte, 8*(n+1))
	copy(out[:8], r[0][:])
	for i := 1; i <= n; i++ {
		copy(out[i*8:(i+1)*8], r[i][:])
	}
	return out, nil
}

// unwrapKey reverses wrapKey, returning an InputDataError if the recovered
// integrity value does not match defaultIV (a tampered or wrong-kek wrap).
func unwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, blockvaulterrors.InputDataf("key wrap ciphertext must be a multiple of 8 bytes, >= 24, got %d", len(wrapped))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "building key-wrap cipher")
	}

	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[:8])
	r := make([][8]byte, n+1)
	for i := 1; i <= n; i++ {
		copy(r[i][:], wrapped[i*8:(i+1)*8])
	}

	var buf [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			var tb [8]byte
			binary.BigEndian.PutUint64(tb[:], t)
			var axb [8]byte
			for k := range a {
				axb[k] = a[k] ^ tb[k]
			}
			copy(buf[:8], axb[:])
			copy(buf[8:], r[i][:])
			block.Decrypt(buf[:], buf[:])
			copy(a[:], buf[:8])
			copy(r[i][:], buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(a[:], defaultIV[:]) != 1 {
		return nil, blockvaulterrors.InputDataf("key wrap integrity check failed")
	}

	plaintext := make([]byte, n*8)
	for i := 1; i <= n; i++ {
		copy(plaintext[(i-1)*8:i*8], r[i][:])
	}
	return plaintext, nil
}
