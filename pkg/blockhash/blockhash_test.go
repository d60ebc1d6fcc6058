package blockhash

import "testing"

func TestSumDeterministic(t *testing.T) {
	data := []byte("the quick brown fox")
	d1, err := Sum(BLAKE2b256, data)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Sum(BLAKE2b256, data)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Checksum != d2.Checksum || d1.UID != d2.UID {
		t.Fatal("expected identical digest and uid for identical input")
	}
}

func TestSumSameChecksumSameUID(t *testing.T) {
	a, _ := Sum(BLAKE2b256, []byte("block-a"))
	b, _ := Sum(BLAKE2b256, []byte("block-a"))
	if a.UID != b.UID {
		t.Fatal("equal checksums must derive equal uids")
	}
}

func TestSumDifferentContentDifferentUID(t *testing.T) {
	a, _ := Sum(BLAKE2b256, []byte("block-a"))
	b, _ := Sum(BLAKE2b256, []byte("block-b"))
	if a.UID == b.UID {
		t.Fatal("distinct content should not collide in this small test corpus")
	}
}

func TestSumUnknownAlgorithm(t *testing.T) {
	if _, err := Sum(Algorithm("md5"), []byte("x")); err == nil {
		t.Fatal("expected an error for an unregistered algorithm")
	}
}

func TestValidateRejectsNarrowDigest(t *testing.T) {
	registry["fake64"] = hashFunc{bits: 64, sum: func(b []byte) []byte { return b }}
	defer delete(registry, "fake64")
	if err := Validate("fake64"); err == nil {
		t.Fatal("expected narrow digest width to be rejected")
	}
}

func TestValidateAcceptsKnownAlgorithms(t *testing.T) {
	for _, alg := range []Algorithm{BLAKE2b256, SHA256} {
		if err := Validate(alg); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", alg, err)
		}
	}
}

func TestUIDString(t *testing.T) {
	u := UID{Left: 1, Right: 2}
	if got := u.String(); len(got) != 24 {
		t.Errorf("String() = %q, want 24 hex chars", got)
	}
}
