package compression

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	z, err := New(3, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer z.Close()

	plaintext := bytes.Repeat([]byte("compressible data "), 256)
	ciphertext, materials, err := z.Encapsulate(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if ciphertext == nil {
		t.Fatal("expected compression to apply for a highly repetitive payload")
	}

	decoded, err := z.Decapsulate(ciphertext, materials)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestDeclinesWhenNoGain(t *testing.T) {
	z, err := New(3, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer z.Close()

	random := make([]byte, 64)
	for i := range random {
		random[i] = byte(i*131 + 7)
	}
	ciphertext, materials, err := z.Encapsulate(random)
	if err != nil {
		t.Fatal(err)
	}
	if ciphertext != nil || materials != nil {
		t.Fatal("expected encapsulate to decline on a payload with no compression gain")
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(0, nil); err == nil {
		t.Fatal("expected an error for level 0")
	}
	if _, err := New(23, nil); err == nil {
		t.Fatal("expected an error for level 23")
	}
}

func TestSharedDictionary(t *testing.T) {
	dict := bytes.Repeat([]byte("shared-vocab"), 32)
	z, err := New(5, dict)
	if err != nil {
		t.Fatal(err)
	}
	defer z.Close()

	plaintext := bytes.Repeat([]byte("shared-vocab"), 64)
	ciphertext, materials, err := z.Encapsulate(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if ciphertext == nil {
		t.Fatal("expected compression to apply with a matching dictionary")
	}
	decoded, err := z.Decapsulate(ciphertext, materials)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatal("round trip mismatch with shared dictionary")
	}
}
