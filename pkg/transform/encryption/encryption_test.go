package encryption

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"testing"
)

func masterKeyFixture(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, masterKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestMasterKeyRoundTrip(t *testing.T) {
	source, err := NewMasterKeyEnvelope(masterKeyFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	aead := New(source, Nonce96)

	plaintext := []byte("block payload")
	ciphertext, materials, err := aead.Encapsulate(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := aead.Decapsulate(ciphertext, materials)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestEnvelopeKeyIndependence(t *testing.T) {
	source, err := NewMasterKeyEnvelope(masterKeyFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	aead := New(source, Nonce96)

	plaintext := []byte("identical content")
	c1, m1, err := aead.Encapsulate(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	c2, m2, err := aead.Encapsulate(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(c1, c2) {
		t.Fatal("expected distinct ciphertexts for repeated encapsulation of identical content")
	}
	if m1[fieldEnvelopeKey] == m2[fieldEnvelopeKey] {
		t.Fatal("expected distinct wrapped envelope keys")
	}
}

func TestDecapsulateTamperedCiphertextFails(t *testing.T) {
	source, err := NewMasterKeyEnvelope(masterKeyFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	aead := New(source, Nonce96)

	ciphertext, materials, err := aead.Encapsulate([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xFF

	if _, err := aead.Decapsulate(tampered, materials); err == nil {
		t.Fatal("expected gcm tag verification failure on tampered ciphertext")
	}
}

func TestKeyWrapRoundTrip(t *testing.T) {
	kek := masterKeyFixture(t)
	plaintext := make([]byte, 32)
	for i := range plaintext {
		plaintext[i] = byte(255 - i)
	}

	wrapped, err := wrapKey(kek, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if len(wrapped) != len(plaintext)+8 {
		t.Fatalf("wrapped length = %d, want %d", len(wrapped), len(plaintext)+8)
	}

	unwrapped, err := unwrapKey(kek, wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(unwrapped, plaintext) {
		t.Fatal("key wrap round trip mismatch")
	}
}

func TestKeyWrapDetectsWrongKEK(t *testing.T) {
	kek := masterKeyFixture(t)
	wrongKEK := make([]byte, 32)
	copy(wrongKEK, kek)
	wrongKEK[0] ^= 0xFF

	plaintext := make([]byte, 16)
	wrapped, err := wrapKey(kek, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := unwrapKey(wrongKEK, wrapped); err == nil {
		t.Fatal("expected integrity check failure with the wrong kek")
	}
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	salt := []byte("a-salt-value")
	k1, err := DeriveMasterKey(salt, []byte("hunter2"), 1000)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := DeriveMasterKey(salt, []byte("hunter2"), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("expected deterministic derivation for identical inputs")
	}
	if len(k1) != masterKeySize {
		t.Fatalf("derived key length = %d, want %d", len(k1), masterKeySize)
	}
}

func TestECDHEnvelopeRoundTrip(t *testing.T) {
	curve := ecdh.P384()
	recipientKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	aead := New(NewECDHEnvelope(recipientKey), Nonce96)

	plaintext := []byte("ecc-protected block")
	ciphertext, materials, err := aead.Encapsulate(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := aead.Decapsulate(ciphertext, materials)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatal("ecdh round trip mismatch")
	}
}

func TestECDHEnvelopeAcceptsLegacyFieldName(t *testing.T) {
	curve := ecdh.P384()
	recipientKey, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	source := NewECDHEnvelope(recipientKey)
	aead := New(source, Nonce96)

	_, materials, err := aead.Encapsulate([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	legacy := map[string]any{
		fieldEnvelopeKeyLegacy: materials[fieldEnvelopeKey],
	}
	if _, err := source.RecoverEnvelopeKey(legacy); err != nil {
		t.Fatalf("expected legacy ecc_envelope_key field to be accepted: %v", err)
	}
}
