package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/blockvault/pkg/blockhash"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	storageID, err := db.EnsureStorage(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}

	v := Version{
		UID: "v1", Volume: "vol0", Snapshot: "snap1", Date: time.Now(),
		Size: 4096, BlockSize: 4096, StorageID: storageID,
		Labels: map[string]string{"env": "prod"},
	}
	if err := db.CreateVersion(ctx, v); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusIncomplete {
		t.Fatalf("status = %s, want incomplete", got.Status)
	}
	if got.Labels["env"] != "prod" {
		t.Fatalf("labels = %+v", got.Labels)
	}
}

func TestFinalizeVersionTransitionsToValid(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	storageID, _ := db.EnsureStorage(ctx, "s1")
	v := Version{UID: "v1", Volume: "vol0", Snapshot: "s", Date: time.Now(), Size: 4096, BlockSize: 4096, StorageID: storageID}
	if err := db.CreateVersion(ctx, v); err != nil {
		t.Fatal(err)
	}

	if err := db.FinalizeVersion(ctx, "v1", Version{BytesRead: 4096, BytesWritten: 2048}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusValid {
		t.Fatalf("status = %s, want valid", got.Status)
	}
	if got.BytesRead != 4096 {
		t.Fatalf("BytesRead = %d", got.BytesRead)
	}
}

func TestCommitBlockBatchAndDedup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	storageID, _ := db.EnsureStorage(ctx, "s1")
	v := Version{UID: "v1", Volume: "vol0", Snapshot: "s", Date: time.Now(), Size: 8192, BlockSize: 4096, StorageID: storageID}
	if err := db.CreateVersion(ctx, v); err != nil {
		t.Fatal(err)
	}

	uid := blockhash.UID{Left: 1, Right: 2}
	blocks := []Block{
		{VersionUID: "v1", Idx: 0, UID: &uid, Checksum: "abc", Size: 4096},
		{VersionUID: "v1", Idx: 1, Size: 4096}, // sparse
	}
	if err := db.CommitBlockBatch(ctx, "v1", blocks); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListBlocks(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d blocks, want 2", len(got))
	}
	if got[1].UID != nil {
		t.Fatal("expected block 1 to be sparse (nil uid)")
	}

	found, ok, err := db.FindBlockByChecksum(ctx, storageID, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || found != uid {
		t.Fatalf("FindBlockByChecksum = %v, %v want %v, true", found, ok, uid)
	}
}

func TestRemoveVersionEnqueuesDeletedBlocks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	storageID, _ := db.EnsureStorage(ctx, "s1")
	v := Version{UID: "v1", Volume: "vol0", Snapshot: "s", Date: time.Now(), Size: 4096, BlockSize: 4096, StorageID: storageID}
	if err := db.CreateVersion(ctx, v); err != nil {
		t.Fatal(err)
	}
	uid := blockhash.UID{Left: 9, Right: 9}
	if err := db.CommitBlockBatch(ctx, "v1", []Block{{VersionUID: "v1", Idx: 0, UID: &uid, Checksum: "c", Size: 4096}}); err != nil {
		t.Fatal(err)
	}

	if err := db.RemoveVersion(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingDeletedBlocks(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].UID != uid {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestRemoveProtectedVersionFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	storageID, _ := db.EnsureStorage(ctx, "s1")
	v := Version{UID: "v1", Volume: "vol0", Snapshot: "s", Date: time.Now(), Size: 4096, BlockSize: 4096, StorageID: storageID, Protected: true}
	if err := db.CreateVersion(ctx, v); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveVersion(ctx, "v1"); err == nil {
		t.Fatal("expected removing a protected version to fail")
	}
}

func TestCloneVersionBlocksSkipsChangedIndices(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	storageID, _ := db.EnsureStorage(ctx, "s1")

	base := Version{UID: "base", Volume: "vol0", Snapshot: "s0", Date: time.Now(), Size: 3 * 4096, BlockSize: 4096, StorageID: storageID}
	if err := db.CreateVersion(ctx, base); err != nil {
		t.Fatal(err)
	}
	uid0 := blockhash.UID{Left: 1, Right: 1}
	uid1 := blockhash.UID{Left: 2, Right: 2}
	baseBlocks := []Block{
		{VersionUID: "base", Idx: 0, UID: &uid0, Checksum: "c0", Size: 4096},
		{VersionUID: "base", Idx: 1, UID: &uid1, Checksum: "c1", Size: 4096},
		{VersionUID: "base", Idx: 2, Size: 4096}, // sparse
	}
	if err := db.CommitBlockBatch(ctx, "base", baseBlocks); err != nil {
		t.Fatal(err)
	}

	next := Version{UID: "next", Volume: "vol0", Snapshot: "s1", Date: time.Now(), Size: 3 * 4096, BlockSize: 4096, StorageID: storageID}
	if err := db.CreateVersion(ctx, next); err != nil {
		t.Fatal(err)
	}
	if err := db.CloneVersionBlocks(ctx, "base", "next", []int64{1}); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListBlocks(ctx, "next")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d cloned blocks, want 2 (idx 1 excluded)", len(got))
	}
	for _, b := range got {
		if b.Idx == 1 {
			t.Fatal("expected idx 1 to be excluded from the clone")
		}
	}

	uidNew := blockhash.UID{Left: 9, Right: 9}
	if err := db.CommitBlockBatch(ctx, "next", []Block{{VersionUID: "next", Idx: 1, UID: &uidNew, Checksum: "c1new", Size: 4096}}); err != nil {
		t.Fatal(err)
	}
	got, err = db.ListBlocks(ctx, "next")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d blocks after re-write, want 3", len(got))
	}
}

func TestLockExclusion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.AcquireLock(ctx, "vol0/snap1", "host-a", 1, "backup"); err != nil {
		t.Fatal(err)
	}
	if err := db.AcquireLock(ctx, "vol0/snap1", "host-b", 2, "backup"); err == nil {
		t.Fatal("expected the second lock acquisition to fail with AlreadyLocked")
	}
	if err := db.ReleaseLock(ctx, "vol0/snap1"); err != nil {
		t.Fatal(err)
	}
	if err := db.AcquireLock(ctx, "vol0/snap1", "host-b", 2, "backup"); err != nil {
		t.Fatalf("expected lock to be acquirable after release: %v", err)
	}
}

func TestHasLiveReference(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	storageID, _ := db.EnsureStorage(ctx, "s1")
	v := Version{UID: "v1", Volume: "vol0", Snapshot: "s", Date: time.Now(), Size: 4096, BlockSize: 4096, StorageID: storageID}
	if err := db.CreateVersion(ctx, v); err != nil {
		t.Fatal(err)
	}
	uid := blockhash.UID{Left: 5, Right: 5}
	if err := db.CommitBlockBatch(ctx, "v1", []Block{{VersionUID: "v1", Idx: 0, UID: &uid, Checksum: "c", Size: 4096}}); err != nil {
		t.Fatal(err)
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	live, err := db.HasLiveReference(ctx, tx, storageID, uid)
	if err != nil {
		t.Fatal(err)
	}
	if !live {
		t.Fatal("expected a live reference to be found")
	}

	absent, err := db.HasLiveReference(ctx, tx, storageID, blockhash.UID{Left: 404, Right: 404})
	if err != nil {
		t.Fatal(err)
	}
	if absent {
		t.Fatal("expected no live reference for an unreferenced uid")
	}
}
