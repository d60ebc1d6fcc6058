// Package gc implements the two-phase deferred delete sweep: version
// removal has already enqueued deleted_blocks rows; Sweep resolves each
// candidate against the live blocks table inside one transaction and
// either removes the object or drops the now-stale queue row.
package gc

import (
	"context"
	"time"

	"github.com/cuemby/blockvault/pkg/engine"
	"github.com/cuemby/blockvault/pkg/log"
	"github.com/cuemby/blockvault/pkg/metrics"
	"github.com/cuemby/blockvault/pkg/storagebackend"
)

// Options configures a single sweep.
type Options struct {
	// SafetyDelay is how long a deleted_blocks row must age before the
	// sweep considers it, guarding against a concurrent backup that just
	// looked up the same uid as still-present.
	SafetyDelay time.Duration
	BatchLimit  int
}

// Result summarizes one sweep.
type Result struct {
	Deleted  int
	Retained int
}

const defaultBatchLimit = 1000

// Sweep processes pending deleted_blocks rows older than opts.SafetyDelay,
// physically removing objects with no remaining live reference.
func Sweep(ctx context.Context, eng *engine.Engine, opts Options) (Result, error) {
	if opts.SafetyDelay == 0 {
		opts.SafetyDelay = time.Hour
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = defaultBatchLimit
	}

	logger := log.WithComponent("gc")
	cutoff := time.Now().Add(-opts.SafetyDelay)

	candidates, err := eng.DB.PendingDeletedBlocks(ctx, cutoff, opts.BatchLimit)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, d := range candidates {
		storageName, ok := eng.StorageNameByID(d.StorageID)
		if !ok {
			logger.Warn().Int("storage_id", d.StorageID).Msg("skipping deleted block for unregistered storage")
			continue
		}
		storage, err := eng.Storage(storageName)
		if err != nil {
			return result, err
		}

		tx, err := eng.DB.BeginTx(ctx)
		if err != nil {
			return result, err
		}

		live, err := eng.DB.HasLiveReference(ctx, tx, d.StorageID, d.UID)
		if err != nil {
			tx.Rollback()
			return result, err
		}

		if !live {
			if err := storage.Backend.RemoveBlock(ctx, d.UID); err != nil && err != storagebackend.ErrNotFound {
				tx.Rollback()
				return result, err
			}
			result.Deleted++
		} else {
			result.Retained++
		}

		if err := eng.DB.DeleteDeletedBlockRow(ctx, tx, d.ID); err != nil {
			tx.Rollback()
			return result, err
		}
		if err := tx.Commit(); err != nil {
			return result, err
		}
	}

	metrics.GCSweepsTotal.Inc()
	metrics.GCBlocksDeletedTotal.Add(float64(result.Deleted))
	metrics.GCBlocksRetainedTotal.Add(float64(result.Retained))
	logger.Info().Int("deleted", result.Deleted).Int("retained", result.Retained).Msg("sweep completed")
	return result, nil
}
