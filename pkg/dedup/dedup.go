// Package dedup provides a per-storage, in-memory set of block uids
// (DedupIndex / BlockUidHistory) used to skip re-uploading content
// already written earlier in the same run. It is never persisted; the
// database is the durable source of truth across runs.
package dedup

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/cuemby/blockvault/pkg/blockhash"
)

// Index is a per-storage set of uids, organized as left -> bitset(right)
// so a single storage's history can be queried and mutated independently
// of any other storage's.
type Index struct {
	mu        sync.RWMutex
	storages  map[string]map[uint32]*roaring64.Bitmap
}

// New builds an empty dedup index.
func New() *Index {
	return &Index{storages: make(map[string]map[uint32]*roaring64.Bitmap)}
}

// Contains reports whether uid has already been seen for storageName.
func (idx *Index) Contains(storageName string, uid blockhash.UID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	lefts, ok := idx.storages[storageName]
	if !ok {
		return false
	}
	bitmap, ok := lefts[uid.Left]
	if !ok {
		return false
	}
	return bitmap.Contains(uid.Right)
}

// Add records uid as seen for storageName.
func (idx *Index) Add(storageName string, uid blockhash.UID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	lefts, ok := idx.storages[storageName]
	if !ok {
		lefts = make(map[uint32]*roaring64.Bitmap)
		idx.storages[storageName] = lefts
	}
	bitmap, ok := lefts[uid.Left]
	if !ok {
		bitmap = roaring64.New()
		lefts[uid.Left] = bitmap
	}
	bitmap.Add(uid.Right)
}

// Count returns the total number of distinct uids recorded for storageName.
func (idx *Index) Count(storageName string) uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	lefts, ok := idx.storages[storageName]
	if !ok {
		return 0
	}
	var total uint64
	for _, bitmap := range lefts {
		total += bitmap.GetCardinality()
	}
	return total
}

// Reset discards all history, e.g. between independent runs.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.storages = make(map[string]map[uint32]*roaring64.Bitmap)
}

// ResetStorage discards only storageName's history.
func (idx *Index) ResetStorage(storageName string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.storages, storageName)
}
