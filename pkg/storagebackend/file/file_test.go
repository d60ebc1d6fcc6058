package file

import (
	"bytes"
	"context"
	"testing"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/storagebackend"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{
		Path:    t.TempDir(),
		HMACKey: []byte("test-hmac-key"),
		Limits:  storagebackend.DefaultLimits(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestWriteReadBlockRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	uid := blockhash.UID{Left: 7, Right: 99}
	payload := []byte("ciphertext bytes")
	meta := storagebackend.ObjectMetadata{Size: len(payload), ObjectSize: len(payload), Checksum: "abc"}

	if err := b.WriteBlock(ctx, uid, payload, meta); err != nil {
		t.Fatal(err)
	}

	got, gotMeta, err := b.ReadBlock(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip payload mismatch")
	}
	if gotMeta.Checksum != "abc" {
		t.Fatalf("checksum = %q", gotMeta.Checksum)
	}
}

func TestReadBlockNotFound(t *testing.T) {
	b := newTestBackend(t)
	_, _, err := b.ReadBlock(context.Background(), blockhash.UID{Left: 1, Right: 1})
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRemoveBlock(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	uid := blockhash.UID{Left: 3, Right: 4}
	meta := storagebackend.ObjectMetadata{Size: 3, ObjectSize: 3, Checksum: "x"}
	if err := b.WriteBlock(ctx, uid, []byte("abc"), meta); err != nil {
		t.Fatal(err)
	}
	if err := b.RemoveBlock(ctx, uid); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.ReadBlock(ctx, uid); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
	if err := b.RemoveBlock(ctx, uid); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound removing twice, got %v", err)
	}
}

func TestListBlocks(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	uids := []blockhash.UID{{Left: 1, Right: 1}, {Left: 2, Right: 2}, {Left: 3, Right: 3}}
	for _, uid := range uids {
		meta := storagebackend.ObjectMetadata{Size: 1, ObjectSize: 1, Checksum: "c"}
		if err := b.WriteBlock(ctx, uid, []byte("x"), meta); err != nil {
			t.Fatal(err)
		}
	}
	listed, err := b.ListBlocks(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != len(uids) {
		t.Fatalf("listed %d blocks, want %d", len(listed), len(uids))
	}
}

func TestVersionMetaRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	doc := []byte(`{"uid":"v1"}`)
	if err := b.WriteVersionMeta(ctx, "v1", doc); err != nil {
		t.Fatal(err)
	}
	got, err := b.ReadVersionMeta(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, doc) {
		t.Fatal("version metadata round trip mismatch")
	}
	versions, err := b.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 || versions[0] != "v1" {
		t.Fatalf("ListVersions = %v", versions)
	}
	if err := b.RemoveVersionMeta(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ReadVersionMeta(ctx, "v1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestConsistencyCheckPassesOnIntactWrite(t *testing.T) {
	b, err := New(Config{
		Path:                   t.TempDir(),
		HMACKey:                []byte("k"),
		Limits:                 storagebackend.DefaultLimits(),
		ConsistencyCheckWrites: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	uid := blockhash.UID{Left: 1, Right: 1}
	meta := storagebackend.ObjectMetadata{Size: 1, ObjectSize: 1, Checksum: "c"}
	if err := b.WriteBlock(ctx, uid, []byte("x"), meta); err != nil {
		t.Fatal(err)
	}
}
