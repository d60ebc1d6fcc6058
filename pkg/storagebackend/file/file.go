// Package file implements storagebackend.Backend over a local directory
// tree, the simplest module and the one every other backend's key layout
// and metadata scheme is defined against.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/storagebackend"
)

// ErrNotFound is returned by RemoveBlock and ReadBlock when the object
// does not exist. It is the package's storagebackend.ErrNotFound, so
// callers that only depend on the generic Backend contract can still
// recognize it.
var ErrNotFound = storagebackend.ErrNotFound

// Backend stores blocks and version metadata as files under a root
// directory, honoring the package's shared hashed key layout.
type Backend struct {
	root                   string
	hmacKey                []byte
	throttle               *storagebackend.Throttle
	consistencyCheckWrites bool
}

// Config configures a file Backend.
type Config struct {
	Path                   string
	HMACKey                []byte
	Limits                 storagebackend.Limits
	ConsistencyCheckWrites bool
}

// New builds a file Backend rooted at cfg.Path, creating it if necessary.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, blockvaulterrors.Configurationf("file storage requires a path")
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindConfiguration, err, "creating storage root %s", cfg.Path)
	}
	return &Backend{
		root:                   cfg.Path,
		hmacKey:                cfg.HMACKey,
		throttle:               storagebackend.NewThrottle(cfg.Limits),
		consistencyCheckWrites: cfg.ConsistencyCheckWrites,
	}, nil
}

func (b *Backend) objectPath(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *Backend) WriteBlock(ctx context.Context, uid blockhash.UID, ciphertext []byte, meta storagebackend.ObjectMetadata) error {
	key := storagebackend.BlockKey(uid)
	return b.throttle.Write(ctx, len(ciphertext), func() error {
		if err := b.writeObject(key, ciphertext, meta); err != nil {
			return err
		}
		if b.consistencyCheckWrites {
			return b.checkWritten(key, ciphertext, meta)
		}
		return nil
	})
}

func (b *Backend) writeObject(key string, data []byte, meta storagebackend.ObjectMetadata) error {
	signed, err := storagebackend.SignObjectMetadata(meta, b.hmacKey)
	if err != nil {
		return err
	}
	metaBytes, err := json.Marshal(signed)
	if err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "marshaling object metadata")
	}

	path := b.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "creating shard directory")
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "writing object %s", key)
	}
	if err := os.WriteFile(path+".meta", metaBytes, 0o640); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "writing object metadata %s", key)
	}
	return nil
}

func (b *Backend) checkWritten(key string, want []byte, meta storagebackend.ObjectMetadata) error {
	got, gotMeta, err := b.readObject(key)
	if err != nil {
		return blockvaulterrors.Internalf("consistency check read of %s failed: %v", key, err)
	}
	if !bytes.Equal(got, want) || gotMeta.Checksum != meta.Checksum {
		return blockvaulterrors.Internalf("consistency check mismatch for %s", key)
	}
	return nil
}

func (b *Backend) ReadBlock(ctx context.Context, uid blockhash.UID) ([]byte, storagebackend.ObjectMetadata, error) {
	key := storagebackend.BlockKey(uid)
	var data []byte
	var meta storagebackend.ObjectMetadata
	err := b.throttle.Read(ctx, 0, func() error {
		var err error
		data, meta, err = b.readObject(key)
		return err
	})
	return data, meta, err
}

func (b *Backend) readObject(key string) ([]byte, storagebackend.ObjectMetadata, error) {
	path := b.objectPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagebackend.ObjectMetadata{}, ErrNotFound
		}
		return nil, storagebackend.ObjectMetadata{}, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading object %s", key)
	}
	metaBytes, err := os.ReadFile(path + ".meta")
	if err != nil {
		return nil, storagebackend.ObjectMetadata{}, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading object metadata %s", key)
	}
	var meta storagebackend.ObjectMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, storagebackend.ObjectMetadata{}, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "unmarshaling object metadata %s", key)
	}
	if err := storagebackend.VerifyObjectMetadata(meta, b.hmacKey); err != nil {
		return nil, storagebackend.ObjectMetadata{}, err
	}
	return data, meta, nil
}

func (b *Backend) ReadBlockLength(ctx context.Context, uid blockhash.UID) (int, error) {
	_, meta, err := b.ReadBlock(ctx, uid)
	if err != nil {
		return 0, err
	}
	return meta.ObjectSize, nil
}

func (b *Backend) RemoveBlock(ctx context.Context, uid blockhash.UID) error {
	key := storagebackend.BlockKey(uid)
	path := b.objectPath(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "removing object %s", key)
	}
	_ = os.Remove(path + ".meta")
	return nil
}

func (b *Backend) ListBlocks(ctx context.Context, prefix string) ([]blockhash.UID, error) {
	var uids []blockhash.UID
	root := filepath.Join(b.root, "blocks")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) == ".meta" {
			return nil
		}
		name := filepath.Base(path)
		if prefix != "" && len(name) >= len(prefix) && name[:len(prefix)] != prefix {
			return nil
		}
		uid, ok := parseUIDText(name)
		if ok {
			uids = append(uids, uid)
		}
		return nil
	})
	if err != nil {
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "listing blocks")
	}
	return uids, nil
}

func parseUIDText(text string) (blockhash.UID, bool) {
	if len(text) != 24 {
		return blockhash.UID{}, false
	}
	left, err := strconv.ParseUint(text[:8], 16, 32)
	if err != nil {
		return blockhash.UID{}, false
	}
	right, err := strconv.ParseUint(text[8:], 16, 64)
	if err != nil {
		return blockhash.UID{}, false
	}
	return blockhash.UID{Left: uint32(left), Right: right}, true
}

func (b *Backend) WriteVersionMeta(ctx context.Context, versionUID string, doc []byte) error {
	key := storagebackend.VersionKey(versionUID)
	path := b.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "creating versions directory")
	}
	if err := os.WriteFile(path, doc, 0o640); err != nil {
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "writing version metadata %s", versionUID)
	}
	return nil
}

func (b *Backend) ReadVersionMeta(ctx context.Context, versionUID string) ([]byte, error) {
	path := b.objectPath(storagebackend.VersionKey(versionUID))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "reading version metadata %s", versionUID)
	}
	return data, nil
}

func (b *Backend) RemoveVersionMeta(ctx context.Context, versionUID string) error {
	path := b.objectPath(storagebackend.VersionKey(versionUID))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "removing version metadata %s", versionUID)
	}
	return nil
}

func (b *Backend) ListVersions(ctx context.Context) ([]string, error) {
	root := filepath.Join(b.root, "versions")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, blockvaulterrors.Wrap(blockvaulterrors.KindInternal, err, "listing versions")
	}
	var uids []string
	for _, e := range entries {
		if !e.IsDir() {
			uids = append(uids, e.Name())
		}
	}
	return uids, nil
}

func (b *Backend) Close() error { return nil }

var _ storagebackend.Backend = (*Backend)(nil)
