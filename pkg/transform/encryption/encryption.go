// Package encryption implements the authenticated-encryption transform
// stage: a fresh per-block envelope key protected either by RFC 3394 AES
// key wrap under a master key, or by an ephemeral ECDH exchange, with the
// block itself sealed under AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/transform"
)

const Name = "encryption"

// canonical and legacy material field names. The ECC transform variant
// originally shipped materials under ecc_envelope_key; envelope_key is
// canonical going forward but readers must still accept the legacy name.
const (
	fieldEnvelopeKey       = "envelope_key"
	fieldEnvelopeKeyLegacy = "ecc_envelope_key"
	fieldIV                = "iv"
)

// EnvelopeSource produces and recovers the per-block envelope key used to
// seal a block under AES-256-GCM.
type EnvelopeSource interface {
	Module() string
	// NewEnvelopeKey generates a fresh envelope key and the materials
	// needed to recover it later. rng fills a buffer with random bytes;
	// callers normally pass a wrapper around crypto/rand.Read.
	NewEnvelopeKey(rng func([]byte) error) (key []byte, materials map[string]any, err error)
	RecoverEnvelopeKey(materials map[string]any) (key []byte, err error)
}

// NonceSize selects a 96-bit (GCM standard) or 128-bit nonce.
type NonceSize int

const (
	Nonce96  NonceSize = 12
	Nonce128 NonceSize = 16
)

// AEAD is the AES-256-GCM transform stage.
type AEAD struct {
	source    EnvelopeSource
	nonceSize NonceSize
}

// New builds an AEAD transform stage around the given envelope source.
func New(source EnvelopeSource, nonceSize NonceSize) *AEAD {
	if nonceSize == 0 {
		nonceSize = Nonce96
	}
	return &AEAD{source: source, nonceSize: nonceSize}
}

func (a *AEAD) Name() string   { return Name }
func (a *AEAD) Module() string { return a.source.Module() }

func (a *AEAD) Encapsulate(plaintext []byte) ([]byte, transform.Materials, error) {
	key, materials, err := a.source.NewEnvelopeKey(readRandom)
	if err != nil {
		return nil, nil, err
	}

	gcm, err := newGCM(key, int(a.nonceSize))
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, a.nonceSize)
	if err := readRandom(nonce); err != nil {
		return nil, nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "generating gcm nonce")
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := transform.Materials{fieldIV: encodeB64(nonce)}
	for k, v := range materials {
		out[k] = v
	}
	return ciphertext, out, nil
}

func (a *AEAD) Decapsulate(ciphertext []byte, materials transform.Materials) ([]byte, error) {
	key, err := a.source.RecoverEnvelopeKey(materials)
	if err != nil {
		return nil, err
	}

	nonce, err := materialBytes(materials, fieldIV)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, blockvaulterrors.Scrubbingf("gcm tag verification failed: %v", err)
	}
	return plaintext, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "building aes cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "building gcm")
	}
	return gcm, nil
}

func readRandom(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func encodeB64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// materialBytes reads the first present of names from materials as a
// base64 string and decodes it.
func materialBytes(materials map[string]any, names ...string) ([]byte, error) {
	for _, name := range names {
		v, ok := materials[name]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, blockvaulterrors.Internalf("material %q has unexpected type %T", name, v)
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, blockvaulterrors.InputDataf("material %q is not valid base64: %v", name, err)
		}
		return decoded, nil
	}
	return nil, blockvaulterrors.Internalf("missing any of %v in encryption materials", names)
}
