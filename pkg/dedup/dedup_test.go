package dedup

import (
	"testing"

	"github.com/cuemby/blockvault/pkg/blockhash"
)

func TestAddAndContains(t *testing.T) {
	idx := New()
	uid := blockhash.UID{Left: 1, Right: 100}

	if idx.Contains("s1", uid) {
		t.Fatal("expected uid to be absent before Add")
	}
	idx.Add("s1", uid)
	if !idx.Contains("s1", uid) {
		t.Fatal("expected uid to be present after Add")
	}
}

func TestPerStorageIsolation(t *testing.T) {
	idx := New()
	uid := blockhash.UID{Left: 1, Right: 100}
	idx.Add("s1", uid)

	if idx.Contains("s2", uid) {
		t.Fatal("expected uid recorded for s1 to not leak into s2's history")
	}
}

func TestCountIsUnionNotSum(t *testing.T) {
	idx := New()
	uid := blockhash.UID{Left: 1, Right: 100}
	idx.Add("s1", uid)
	idx.Add("s1", uid)
	idx.Add("s1", blockhash.UID{Left: 1, Right: 200})

	if got := idx.Count("s1"); got != 2 {
		t.Fatalf("Count = %d, want 2 (union of distinct uids, not sum of adds)", got)
	}
}

func TestResetStorage(t *testing.T) {
	idx := New()
	uid := blockhash.UID{Left: 1, Right: 1}
	idx.Add("s1", uid)
	idx.Add("s2", uid)

	idx.ResetStorage("s1")
	if idx.Contains("s1", uid) {
		t.Fatal("expected s1 history to be cleared")
	}
	if !idx.Contains("s2", uid) {
		t.Fatal("expected s2 history to survive resetting s1")
	}
}

func TestReset(t *testing.T) {
	idx := New()
	idx.Add("s1", blockhash.UID{Left: 1, Right: 1})
	idx.Reset()
	if idx.Count("s1") != 0 {
		t.Fatal("expected Reset to clear all storages")
	}
}
