// Package blockhash computes the content address of a block's plaintext
// bytes: a fixed-width digest, the hex checksum derived from it, and the
// (left, right) uid pair used as the storage key.
package blockhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
)

// Algorithm names a configurable digest function.
type Algorithm string

const (
	BLAKE2b256 Algorithm = "blake2b-256"
	SHA256     Algorithm = "sha256"

	// minDigestBits is the lower bound below which the algorithmic
	// birthday bound no longer holds for realistic corpora.
	minDigestBits = 96
)

// UID is the content address of a block, derived from the first 96 bits
// of its digest.
type UID struct {
	Left  uint32
	Right uint64
}

func (u UID) String() string {
	return fmt.Sprintf("%08x%016x", u.Left, u.Right)
}

// IsZero reports whether u is the zero-value UID (never a valid content
// address; used as a sentinel for sparse block references).
func (u UID) IsZero() bool {
	return u.Left == 0 && u.Right == 0
}

// Digest is the result of hashing a block: the full checksum for audit
// plus the derived uid.
type Digest struct {
	Algorithm Algorithm
	Checksum  string // hex-encoded full digest
	UID       UID
}

// hashFunc is a digest function and the bit-width of its output.
type hashFunc struct {
	bits int
	sum  func([]byte) []byte
}

var registry = map[Algorithm]hashFunc{
	BLAKE2b256: {
		bits: 256,
		sum: func(b []byte) []byte {
			sum := blake2b.Sum256(b)
			return sum[:]
		},
	},
	SHA256: {
		bits: 256,
		sum: func(b []byte) []byte {
			sum := sha256.Sum256(b)
			return sum[:]
		},
	},
}

// Validate rejects any algorithm configuration whose digest is narrower
// than the 96-bit floor required by the uid scheme.
func Validate(alg Algorithm) error {
	hf, ok := registry[alg]
	if !ok {
		return blockvaulterrors.Configurationf("unknown hash function %q", alg)
	}
	if hf.bits < minDigestBits {
		return blockvaulterrors.Configurationf("hash function %q has a %d-bit digest, below the %d-bit floor", alg, hf.bits, minDigestBits)
	}
	return nil
}

// Sum hashes plaintext under the given algorithm and derives its uid from
// the first 96 bits of the digest.
func Sum(alg Algorithm, plaintext []byte) (Digest, error) {
	hf, ok := registry[alg]
	if !ok {
		return Digest{}, blockvaulterrors.Configurationf("unknown hash function %q", alg)
	}
	if hf.bits < minDigestBits {
		return Digest{}, blockvaulterrors.Configurationf("hash function %q has a %d-bit digest, below the %d-bit floor", alg, hf.bits, minDigestBits)
	}

	digest := hf.sum(plaintext)
	return Digest{
		Algorithm: alg,
		Checksum:  hex.EncodeToString(digest),
		UID:       uidFromDigest(digest),
	}, nil
}

// uidFromDigest splits the first 96 bits of digest into (left:32, right:64).
func uidFromDigest(digest []byte) UID {
	var left uint32
	var right uint64
	for i := 0; i < 4; i++ {
		left = left<<8 | uint32(digest[i])
	}
	for i := 4; i < 12; i++ {
		right = right<<8 | uint64(digest[i])
	}
	return UID{Left: left, Right: right}
}
