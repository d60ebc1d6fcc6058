package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/config"
	"github.com/cuemby/blockvault/pkg/database"
	"github.com/cuemby/blockvault/pkg/storagebackend/file"
	"github.com/cuemby/blockvault/pkg/transform"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, blockhash.BLAKE2b256)
}

func TestRegisterAndLookupStorage(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	backend, err := file.New(file.Config{Path: filepath.Join(t.TempDir(), "store")})
	if err != nil {
		t.Fatal(err)
	}
	chain := transform.NewChain()

	if err := eng.RegisterStorage(ctx, config.StorageConfig{Name: "local", Module: "file"}, backend, chain); err != nil {
		t.Fatal(err)
	}

	got, err := eng.Storage("local")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "local" || got.StorageID == 0 {
		t.Fatalf("unexpected storage instance: %+v", got)
	}
}

func TestStorageUnknownReturnsUsageError(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.Storage("missing"); err == nil {
		t.Fatal("expected an error for an unregistered storage name")
	}
}

func TestCloseClosesBackendsAndDB(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	backend, err := file.New(file.Config{Path: filepath.Join(t.TempDir(), "store")})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.RegisterStorage(ctx, config.StorageConfig{Name: "local"}, backend, transform.NewChain()); err != nil {
		t.Fatal(err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}
