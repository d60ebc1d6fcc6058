// Package engine owns the per-process state every other engine package
// depends on: the database handle, storage backend instances keyed by
// name, and the transform chain each storage uses. It replaces a
// package-level singleton registry with a value callers construct and
// pass down explicitly, so multiple configurations can coexist in one
// process (tests in particular).
package engine

import (
	"context"
	"sync"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/config"
	"github.com/cuemby/blockvault/pkg/database"
	"github.com/cuemby/blockvault/pkg/dedup"
	"github.com/cuemby/blockvault/pkg/storagebackend"
	"github.com/cuemby/blockvault/pkg/transform"
)

// StorageInstance binds a configured name to its live backend and the
// transform chain applied to blocks written through it.
type StorageInstance struct {
	Name      string
	StorageID int
	Backend   storagebackend.Backend
	Chain     *transform.Chain
	// TransformsByName supports reversing a stored chain on read.
	TransformsByName map[string]transform.Transform
}

// Engine is the shared, per-process value owning the storage/transform
// registries and database handle that backup/restore/scrub/gc operate
// against.
type Engine struct {
	DB           *database.DB
	Dedup        *dedup.Index
	HashFunction blockhash.Algorithm

	mu       sync.RWMutex
	storages map[string]*StorageInstance
}

// New builds an Engine around an already-open database handle.
func New(db *database.DB, hashFunction blockhash.Algorithm) *Engine {
	return &Engine{
		DB:           db,
		Dedup:        dedup.New(),
		HashFunction: hashFunction,
		storages:     make(map[string]*StorageInstance),
	}
}

// RegisterStorage adds a configured storage instance to the registry,
// assigning (or reusing) its database-backed storage id.
func (e *Engine) RegisterStorage(ctx context.Context, cfg config.StorageConfig, backend storagebackend.Backend, chain *transform.Chain, transforms ...transform.Transform) error {
	storageID, err := e.DB.EnsureStorage(ctx, cfg.Name)
	if err != nil {
		return err
	}

	byName := make(map[string]transform.Transform, len(transforms))
	for _, t := range transforms {
		byName[t.Name()] = t
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.storages[cfg.Name] = &StorageInstance{
		Name:             cfg.Name,
		StorageID:        storageID,
		Backend:          backend,
		Chain:            chain,
		TransformsByName: byName,
	}
	return nil
}

// Storage looks up a registered storage instance by name.
func (e *Engine) Storage(name string) (*StorageInstance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.storages[name]
	if !ok {
		return nil, blockvaulterrors.Usagef("unknown storage %q", name)
	}
	return s, nil
}

// StorageNameByID reverse-looks-up a registered storage's configured name
// from its database-assigned id, for operations (restore, scrub, gc) that
// start from a version row rather than a configured name.
func (e *Engine) StorageNameByID(storageID int) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, s := range e.storages {
		if s.StorageID == storageID {
			return name, true
		}
	}
	return "", false
}

// Close shuts down every registered storage backend and the database
// handle.
func (e *Engine) Close() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var firstErr error
	for _, s := range e.storages {
		if err := s.Backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
