package storagebackend

import (
	"strings"
	"testing"

	"github.com/cuemby/blockvault/pkg/blockhash"
)

func TestBlockKeyDeterministic(t *testing.T) {
	uid := blockhash.UID{Left: 42, Right: 1337}
	k1 := BlockKey(uid)
	k2 := BlockKey(uid)
	if k1 != k2 {
		t.Fatal("expected deterministic key for the same uid")
	}
	if !strings.HasPrefix(k1, blocksPrefix) {
		t.Fatalf("key %q missing blocks/ prefix", k1)
	}
	if !strings.HasSuffix(k1, uid.String()) {
		t.Fatalf("key %q missing uid suffix", k1)
	}
}

func TestBlockKeyShardsSpread(t *testing.T) {
	a := BlockKey(blockhash.UID{Left: 1, Right: 1})
	b := BlockKey(blockhash.UID{Left: 2, Right: 2})
	if a == b {
		t.Fatal("expected distinct keys for distinct uids")
	}
}

func TestVersionKey(t *testing.T) {
	k := VersionKey("v-123")
	if k != "versions/v-123" {
		t.Fatalf("VersionKey = %q", k)
	}
}
