package encryption

import (
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
)

const masterKeySize = 32 // AES-256

// DeriveMasterKey derives a 32-byte master key from a password via
// PBKDF2-HMAC-SHA-512, as an alternative to supplying the key directly.
func DeriveMasterKey(salt, password []byte, iterations int) ([]byte, error) {
	if iterations <= 0 {
		return nil, blockvaulterrors.Configurationf("pbkdf2 iterations must be positive, got %d", iterations)
	}
	if len(salt) == 0 {
		return nil, blockvaulterrors.Configurationf("pbkdf2 salt must not be empty")
	}
	return pbkdf2.Key(password, salt, iterations, masterKeySize, sha512.New), nil
}

// masterKeyEnvelope wraps a fresh envelope key with RFC 3394 AES key wrap
// under a fixed master key.
type masterKeyEnvelope struct {
	masterKey []byte
}

// NewMasterKeyEnvelope builds an EnvelopeSource backed by a 32-byte master
// key, supplied directly or produced by DeriveMasterKey.
func NewMasterKeyEnvelope(masterKey []byte) (EnvelopeSource, error) {
	if len(masterKey) != masterKeySize {
		return nil, blockvaulterrors.Configurationf("master key must be %d bytes, got %d", masterKeySize, len(masterKey))
	}
	return &masterKeyEnvelope{masterKey: masterKey}, nil
}

func (m *masterKeyEnvelope) Module() string { return "aes-keywrap" }

func (m *masterKeyEnvelope) NewEnvelopeKey(rng func([]byte) error) ([]byte, map[string]any, error) {
	key := make([]byte, masterKeySize)
	if err := rng(key); err != nil {
		return nil, nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "generating envelope key")
	}
	wrapped, err := wrapKey(m.masterKey, key)
	if err != nil {
		return nil, nil, err
	}
	return key, map[string]any{fieldEnvelopeKey: encodeB64(wrapped)}, nil
}

func (m *masterKeyEnvelope) RecoverEnvelopeKey(materials map[string]any) ([]byte, error) {
	wrapped, err := materialBytes(materials, fieldEnvelopeKey, fieldEnvelopeKeyLegacy)
	if err != nil {
		return nil, err
	}
	return unwrapKey(m.masterKey, wrapped)
}
