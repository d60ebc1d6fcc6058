// Package storagebackend defines the contract every object store
// implementation (file, s3, ...) satisfies: content-addressed block
// storage plus version metadata export, both guarded by HMAC-verified
// object metadata.
package storagebackend

import (
	"context"
	"errors"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/transform"
)

// ErrNotFound is the shared not-found sentinel every Backend implementation
// wraps its own package-level alias around, so callers that only import
// storagebackend (e.g. the GC sweep) can recognize it across modules.
var ErrNotFound = errors.New("storagebackend: object not found")

// ObjectMetadata is the sidecar record attached to every stored block: the
// plaintext size, its checksum, the transform chain applied, and an HMAC
// covering the rest of the record.
type ObjectMetadata struct {
	Size            int              `json:"size"`
	ObjectSize      int              `json:"object_size"`
	Checksum        string           `json:"checksum"`
	TransformsChain []transform.Stage `json:"transforms"`
	HMAC            HMAC             `json:"hmac"`
}

// HMAC is the integrity field covering the canonical JSON of the rest of
// an ObjectMetadata record.
type HMAC struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// Backend is the capability set a storage backend module implements.
type Backend interface {
	// WriteBlock stores ciphertext under uid with its sidecar metadata.
	WriteBlock(ctx context.Context, uid blockhash.UID, ciphertext []byte, meta ObjectMetadata) error
	// ReadBlock retrieves ciphertext and metadata for uid, verifying the
	// metadata HMAC before returning.
	ReadBlock(ctx context.Context, uid blockhash.UID) ([]byte, ObjectMetadata, error)
	// ReadBlockLength returns the stored (encapsulated) object size for uid
	// as recorded in its HMAC-verified metadata. The file and s3 backends
	// read the whole object, body included, to obtain it.
	ReadBlockLength(ctx context.Context, uid blockhash.UID) (int, error)
	// RemoveBlock deletes uid. ErrNotFound is returned distinctly from
	// other failures.
	RemoveBlock(ctx context.Context, uid blockhash.UID) error
	// ListBlocks enumerates stored block uids, optionally restricted to a
	// key prefix.
	ListBlocks(ctx context.Context, prefix string) ([]blockhash.UID, error)

	// WriteVersionMeta stores a version's exported JSON document.
	WriteVersionMeta(ctx context.Context, versionUID string, doc []byte) error
	// ReadVersionMeta retrieves a version's exported JSON document.
	ReadVersionMeta(ctx context.Context, versionUID string) ([]byte, error)
	// RemoveVersionMeta deletes a version's exported JSON document.
	RemoveVersionMeta(ctx context.Context, versionUID string) error
	// ListVersions enumerates exported version uids.
	ListVersions(ctx context.Context) ([]string, error)

	// Close releases backend resources (rate limiters, connections).
	Close() error
}
