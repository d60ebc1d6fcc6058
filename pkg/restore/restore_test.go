package restore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockvault/pkg/backup"
	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/config"
	"github.com/cuemby/blockvault/pkg/database"
	"github.com/cuemby/blockvault/pkg/engine"
	iofile "github.com/cuemby/blockvault/pkg/iosource/file"
	"github.com/cuemby/blockvault/pkg/storagebackend/file"
	"github.com/cuemby/blockvault/pkg/transform"
)

func newTestEngine(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := engine.New(db, blockhash.BLAKE2b256)
	backend, err := file.New(file.Config{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, eng.RegisterStorage(ctx, config.StorageConfig{Name: "local"}, backend, transform.NewChain()))
	return eng, "local"
}

func TestBackupThenRestoreRoundTrip(t *testing.T) {
	eng, storageName := newTestEngine(t)
	ctx := context.Background()

	srcPath := filepath.Join(t.TempDir(), "src.img")
	src, err := iofile.OpenSized(srcPath, 3*4096, 4096)
	require.NoError(t, err)
	payload := []byte("restore-roundtrip-payload")
	require.NoError(t, src.WriteBlock(ctx, 0, append(payload, make([]byte, 4096-len(payload))...)))
	// block 1 left all-zero (sparse), block 2 gets distinct content
	other := []byte("second-distinct-block-content")
	require.NoError(t, src.WriteBlock(ctx, 2, append(other, make([]byte, 4096-len(other))...)))
	require.NoError(t, src.Close())

	src2, err := iofile.Open(srcPath, 4096, false)
	require.NoError(t, err)
	defer src2.Close()

	versionUID, err := backup.Run(ctx, eng, backup.Options{
		Volume: "vol0", Snapshot: "snap1", Source: src2, StorageName: storageName, Workers: 2,
	})
	require.NoError(t, err)

	dstPath := filepath.Join(t.TempDir(), "dst.img")
	dst, err := iofile.OpenSized(dstPath, 3*4096, 4096)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, Run(ctx, eng, Options{VersionUID: versionUID, Target: dst, Workers: 2}))

	got0, err := dst.ReadBlock(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, payload, got0[:len(payload)])

	got2, err := dst.ReadBlock(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, other, got2[:len(other)])
}
