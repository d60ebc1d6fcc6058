package storagebackend

import (
	"crypto/md5" //nolint:gosec // used only to shard keys, not for integrity
	"fmt"

	"github.com/cuemby/blockvault/pkg/blockhash"
)

// BlockKey computes the deterministic, hash-sharded object key for a
// block uid: blocks/<hh>/<hh>/<uid-text>. The two-level prefix spreads
// objects uniformly across directory shards or S3 partitions.
func BlockKey(uid blockhash.UID) string {
	text := uid.String()
	sum := md5.Sum([]byte(text)) //nolint:gosec
	return fmt.Sprintf("blocks/%02x/%02x/%s", sum[0], sum[1], text)
}

// VersionKey computes the object key for a version's exported metadata.
func VersionKey(versionUID string) string {
	return fmt.Sprintf("versions/%s", versionUID)
}

const blocksPrefix = "blocks/"
const versionsPrefix = "versions/"
