package scrub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockvault/pkg/backup"
	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/config"
	"github.com/cuemby/blockvault/pkg/database"
	"github.com/cuemby/blockvault/pkg/engine"
	iofile "github.com/cuemby/blockvault/pkg/iosource/file"
	"github.com/cuemby/blockvault/pkg/storagebackend"
	"github.com/cuemby/blockvault/pkg/storagebackend/file"
	"github.com/cuemby/blockvault/pkg/transform"
)

func newScrubFixture(t *testing.T) (*engine.Engine, string, string, string) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := engine.New(db, blockhash.BLAKE2b256)
	storeDir := filepath.Join(t.TempDir(), "store")
	backend, err := file.New(file.Config{Path: storeDir})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, eng.RegisterStorage(ctx, config.StorageConfig{Name: "local"}, backend, transform.NewChain()))

	srcPath := filepath.Join(t.TempDir(), "src.img")
	src, err := iofile.OpenSized(srcPath, 4096, 4096)
	require.NoError(t, err)
	payload := make([]byte, 4096)
	copy(payload, []byte("scrub fixture payload"))
	require.NoError(t, src.WriteBlock(ctx, 0, payload))
	require.NoError(t, src.Close())

	src2, err := iofile.Open(srcPath, 4096, false)
	require.NoError(t, err)
	defer src2.Close()

	versionUID, err := backup.Run(ctx, eng, backup.Options{
		Volume: "vol0", Snapshot: "snap1", Source: src2, StorageName: "local", Workers: 2,
	})
	require.NoError(t, err)
	return eng, "local", versionUID, storeDir
}

func TestMetadataScrubPasses(t *testing.T) {
	eng, _, versionUID, _ := newScrubFixture(t)
	ctx := context.Background()

	result, err := Run(ctx, eng, Options{VersionUID: versionUID, Depth: Metadata})
	require.NoError(t, err)
	require.Empty(t, result.Mismatches)

	v, err := eng.DB.GetVersion(ctx, versionUID)
	require.NoError(t, err)
	require.Equal(t, database.StatusValid, v.Status)
}

func TestDeepScrubPasses(t *testing.T) {
	eng, _, versionUID, _ := newScrubFixture(t)
	ctx := context.Background()

	result, err := Run(ctx, eng, Options{VersionUID: versionUID, Depth: Deep})
	require.NoError(t, err)
	require.Empty(t, result.Mismatches)
}

func TestDeepScrubMismatchMarksInvalid(t *testing.T) {
	eng, _, versionUID, storeDir := newScrubFixture(t)
	ctx := context.Background()

	blocks, err := eng.DB.ListBlocks(ctx, versionUID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].UID)

	objectPath := filepath.Join(storeDir, filepath.FromSlash(storagebackend.BlockKey(*blocks[0].UID)))
	data, err := os.ReadFile(objectPath)
	require.NoError(t, err)
	for i := range data {
		data[i] ^= 0xff
	}
	require.NoError(t, os.WriteFile(objectPath, data, 0o640))

	result, err := Run(ctx, eng, Options{VersionUID: versionUID, Depth: Deep})
	require.NoError(t, err)
	require.NotEmpty(t, result.Mismatches)

	v, err := eng.DB.GetVersion(ctx, versionUID)
	require.NoError(t, err)
	require.Equal(t, database.StatusInvalid, v.Status)
}
