package encryption

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
)

// ecdhEnvelope derives the envelope key from an ephemeral ECDH exchange
// against a configured static recipient key, rather than wrapping a
// random key under a shared master key. No library in the retrieved
// examples wires ECDH; crypto/ecdh (Go 1.20+) is the modern stdlib
// equivalent and there is no third-party alternative worth preferring
// over it.
type ecdhEnvelope struct {
	curve        ecdh.Curve
	recipientPub *ecdh.PublicKey
	recipientKey *ecdh.PrivateKey // nil unless this side can decrypt
}

// NewECDHEnvelopeEncryptOnly builds an EnvelopeSource that can only
// encapsulate (a writer holding just the recipient's public key).
func NewECDHEnvelopeEncryptOnly(recipientPub *ecdh.PublicKey) EnvelopeSource {
	return &ecdhEnvelope{curve: ecdh.P384(), recipientPub: recipientPub}
}

// NewECDHEnvelope builds an EnvelopeSource that can both encapsulate and
// decapsulate, holding the recipient's static private key.
func NewECDHEnvelope(recipientKey *ecdh.PrivateKey) EnvelopeSource {
	return &ecdhEnvelope{curve: ecdh.P384(), recipientPub: recipientKey.PublicKey(), recipientKey: recipientKey}
}

func (e *ecdhEnvelope) Module() string { return "ecdh-p384" }

func (e *ecdhEnvelope) NewEnvelopeKey(_ func([]byte) error) ([]byte, map[string]any, error) {
	ephemeral, err := e.curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "generating ephemeral ecdh key")
	}
	shared, err := ephemeral.ECDH(e.recipientPub)
	if err != nil {
		return nil, nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "computing ecdh shared secret")
	}
	key := deriveAESKeyFromSharedSecret(shared)
	return key, map[string]any{fieldEnvelopeKey: encodeB64(ephemeral.PublicKey().Bytes())}, nil
}

func (e *ecdhEnvelope) RecoverEnvelopeKey(materials map[string]any) ([]byte, error) {
	if e.recipientKey == nil {
		return nil, blockvaulterrors.Internalf("ecdh envelope has no recipient private key to decapsulate with")
	}
	pubBytes, err := materialBytes(materials, fieldEnvelopeKey, fieldEnvelopeKeyLegacy)
	if err != nil {
		return nil, err
	}
	ephemeralPub, err := e.curve.NewPublicKey(pubBytes)
	if err != nil {
		return nil, blockvaulterrors.InputDataf("invalid ephemeral ecdh public key: %v", err)
	}
	shared, err := e.recipientKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInputData, err, "computing ecdh shared secret")
	}
	return deriveAESKeyFromSharedSecret(shared), nil
}

// deriveAESKeyFromSharedSecret reduces a raw ECDH shared secret to a
// 32-byte AES-256 key.
func deriveAESKeyFromSharedSecret(shared []byte) []byte {
	sum := sha256.Sum256(shared)
	return sum[:]
}
