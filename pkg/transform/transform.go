// Package transform defines the ordered encapsulate/decapsulate chain
// applied to block plaintext before it reaches a storage backend:
// compression first, then authenticated encryption, reversed on read.
package transform

import "github.com/cuemby/blockvault/pkg/blockvaulterrors"

// Materials is the small JSON-serializable mapping a transform attaches to
// an object's stored metadata so decapsulate can reverse it later.
type Materials map[string]any

// Transform is one stage of the stack.
type Transform interface {
	// Name identifies the transform in the stored object's transform list.
	Name() string
	// Module identifies the implementing module for metadata/audit purposes.
	Module() string
	// Encapsulate transforms plaintext into ciphertext plus the materials
	// needed to reverse it. A nil ciphertext with a nil error means the
	// transform declined to apply (e.g. compression with no size gain);
	// the engine then skips recording this stage in the chain.
	Encapsulate(plaintext []byte) (ciphertext []byte, materials Materials, err error)
	// Decapsulate reverses Encapsulate given the materials it produced.
	Decapsulate(ciphertext []byte, materials Materials) (plaintext []byte, err error)
}

// Stage pairs a transform's name with the materials recorded for it, as
// stored in an object's metadata transforms list.
type Stage struct {
	Name      string
	Module    string
	Materials Materials
}

// Chain applies an ordered list of transforms: compression before
// encryption on write, the reverse order on read.
type Chain struct {
	stages []Transform
}

// NewChain builds a chain in write order (e.g. compression, then encryption).
func NewChain(stages ...Transform) *Chain {
	return &Chain{stages: stages}
}

// Encapsulate runs plaintext through every stage in write order, skipping
// any stage that declines (nil ciphertext, nil error).
func (c *Chain) Encapsulate(plaintext []byte) ([]byte, []Stage, error) {
	data := plaintext
	var applied []Stage
	for _, t := range c.stages {
		out, materials, err := t.Encapsulate(data)
		if err != nil {
			return nil, nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "transform %s encapsulate failed", t.Name())
		}
		if out == nil && materials == nil {
			continue
		}
		data = out
		applied = append(applied, Stage{Name: t.Name(), Module: t.Module(), Materials: materials})
	}
	return data, applied, nil
}

// Decapsulate reverses a recorded stage list in reverse order against a
// lookup of transforms by name.
func Decapsulate(ciphertext []byte, stages []Stage, byName map[string]Transform) ([]byte, error) {
	data := ciphertext
	for i := len(stages) - 1; i >= 0; i-- {
		s := stages[i]
		t, ok := byName[s.Name]
		if !ok {
			return nil, blockvaulterrors.Internalf("no transform registered for stage %q", s.Name)
		}
		out, err := t.Decapsulate(data, s.Materials)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}
