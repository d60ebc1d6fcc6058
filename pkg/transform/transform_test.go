package transform

import (
	"bytes"
	"testing"
)

// upperTransform is a trivial test double: encapsulate uppercases bytes,
// decapsulate lowercases them. It never declines.
type upperTransform struct{}

func (upperTransform) Name() string   { return "upper" }
func (upperTransform) Module() string { return "test" }

func (upperTransform) Encapsulate(plaintext []byte) ([]byte, Materials, error) {
	out := bytes.ToUpper(plaintext)
	return out, Materials{"noop": true}, nil
}

func (upperTransform) Decapsulate(ciphertext []byte, _ Materials) ([]byte, error) {
	return bytes.ToLower(ciphertext), nil
}

// decliningTransform always declines.
type decliningTransform struct{}

func (decliningTransform) Name() string   { return "declining" }
func (decliningTransform) Module() string { return "test" }

func (decliningTransform) Encapsulate(_ []byte) ([]byte, Materials, error) {
	return nil, nil, nil
}

func (decliningTransform) Decapsulate(ciphertext []byte, _ Materials) ([]byte, error) {
	return ciphertext, nil
}

func TestChainRoundTrip(t *testing.T) {
	chain := NewChain(decliningTransform{}, upperTransform{})

	out, stages, err := chain.Encapsulate([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 1 || stages[0].Name != "upper" {
		t.Fatalf("expected only the upper stage to be recorded, got %+v", stages)
	}

	byName := map[string]Transform{"upper": upperTransform{}, "declining": decliningTransform{}}
	plaintext, err := Decapsulate(out, stages, byName)
	if err != nil {
		t.Fatal(err)
	}
	if string(plaintext) != "hello" {
		t.Fatalf("decapsulated %q, want %q", plaintext, "hello")
	}
}

func TestChainEmpty(t *testing.T) {
	chain := NewChain()
	out, stages, err := chain.Encapsulate([]byte("passthrough"))
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 0 {
		t.Fatalf("expected no stages, got %+v", stages)
	}
	if string(out) != "passthrough" {
		t.Fatalf("got %q", out)
	}
}
