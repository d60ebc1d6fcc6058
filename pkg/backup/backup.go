// Package backup implements BackupEngine: reading a source volume
// block-by-block, deduplicating against the database and the in-run
// DedupIndex, writing new content through the storage's transform chain,
// and finalizing the version once every block is recorded.
package backup

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/database"
	"github.com/cuemby/blockvault/pkg/engine"
	"github.com/cuemby/blockvault/pkg/iosource"
	"github.com/cuemby/blockvault/pkg/jobexecutor"
	"github.com/cuemby/blockvault/pkg/log"
	"github.com/cuemby/blockvault/pkg/metrics"
	"github.com/cuemby/blockvault/pkg/storagebackend"
)

// Options configures a single backup run.
type Options struct {
	Volume         string
	Snapshot       string
	Source         iosource.Source
	StorageName    string
	// BaseVersionUID, if set, requests a differential backup: the base
	// version's block references are cloned into the new version and only
	// the source's reported changed set is re-read. Source must implement
	// iosource.ChangedBlockSource; Run rejects the request otherwise.
	BaseVersionUID string
	Labels         map[string]string
	Workers        int
	BatchSize      int
}

const defaultBatchSize = 2000

type readResult struct {
	idx  int64
	data []byte
}

type writeResult struct {
	idx        int64
	uid        blockhash.UID
	checksum   string
	size       int
	objectSize int
}

// Run backs up opts.Source into opts.StorageName, returning the new
// version's uid. The backup is full, or differential against
// opts.BaseVersionUID when that is set.
func Run(ctx context.Context, eng *engine.Engine, opts Options) (string, error) {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}

	lockName := fmt.Sprintf("version/%s/%s", opts.Volume, opts.Snapshot)
	host, _ := os.Hostname()
	if err := eng.DB.AcquireLock(ctx, lockName, host, os.Getpid(), "backup"); err != nil {
		return "", err
	}
	defer eng.DB.ReleaseLock(ctx, lockName)

	storage, err := eng.Storage(opts.StorageName)
	if err != nil {
		return "", err
	}

	blockSize := opts.Source.BlockSize()
	size := opts.Source.Size()
	blockCount := iosource.BlockCount(size, blockSize)

	versionUID := uuid.NewString()
	logger := log.WithVersion(versionUID)
	logger.Info().Str("volume", opts.Volume).Str("snapshot", opts.Snapshot).Int64("blocks", blockCount).Msg("backup started")
	metrics.BackupsStartedTotal.WithLabelValues(opts.Volume).Inc()
	timer := metrics.NewTimer()

	if err := eng.DB.CreateVersion(ctx, database.Version{
		UID: versionUID, Volume: opts.Volume, Snapshot: opts.Snapshot, Date: time.Now(),
		Size: size, BlockSize: blockSize, StorageID: storage.StorageID, Labels: opts.Labels,
	}); err != nil {
		metrics.BackupsCompletedTotal.WithLabelValues("failed").Inc()
		return "", err
	}

	// indices is the set of block indices this run actually reads. A full
	// backup reads every index; a differential backup clones the base
	// version's references and reads only the changed set reported by the
	// source, per BackupEngine's differential algorithm.
	indices := make([]int64, blockCount)
	for i := range indices {
		indices[i] = int64(i)
	}

	if opts.BaseVersionUID != "" {
		base, err := eng.DB.GetVersion(ctx, opts.BaseVersionUID)
		if err != nil {
			metrics.BackupsCompletedTotal.WithLabelValues("failed").Inc()
			return "", blockvaulterrors.Usagef("base version %s not found: %v", opts.BaseVersionUID, err)
		}
		changeSource, ok := opts.Source.(iosource.ChangedBlockSource)
		if !ok {
			metrics.BackupsCompletedTotal.WithLabelValues("failed").Inc()
			return "", blockvaulterrors.Usagef("differential backup requires a source that reports changed blocks, got %T", opts.Source)
		}
		changed, err := changeSource.ChangedBlocks(ctx, opts.BaseVersionUID)
		if err != nil {
			metrics.BackupsCompletedTotal.WithLabelValues("failed").Inc()
			return "", blockvaulterrors.Wrap(blockvaulterrors.KindInputData, err, "reading changed block set against base version %s", opts.BaseVersionUID)
		}

		baseBlockCount := iosource.BlockCount(base.Size, base.BlockSize)
		changedSet := make(map[int64]bool, len(changed))
		for _, idx := range changed {
			changedSet[idx] = true
		}
		// Indices beyond the base's own extent have no cloned data to
		// fall back on and must always be read fresh.
		for idx := baseBlockCount; idx < blockCount; idx++ {
			changedSet[idx] = true
		}

		indices = indices[:0]
		for idx := range changedSet {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

		if err := eng.DB.CloneVersionBlocks(ctx, opts.BaseVersionUID, versionUID, indices); err != nil {
			metrics.BackupsCompletedTotal.WithLabelValues("failed").Inc()
			return "", err
		}
		logger.Info().Str("base_version", opts.BaseVersionUID).Int("changed_blocks", len(indices)).Msg("differential backup: cloned base, reading changed set")
	}

	// Submission and Close both run on a producer goroutine so that
	// draining via Next below proceeds concurrently: for volumes with
	// more than 2*Workers+1 blocks, submitting everything before any
	// drain would leave every worker blocked on a full results/semaphore
	// pair with nothing left to free a slot (see jobexecutor.Submit).
	g, gctx := errgroup.WithContext(ctx)
	readExec := jobexecutor.New(gctx, opts.Workers, jobexecutor.NonBlockingSubmit)
	g.Go(func() error {
		for _, idx := range indices {
			idx := idx
			readExec.Submit(func(ctx context.Context) (any, error) {
				data, err := opts.Source.ReadBlock(ctx, idx)
				return readResult{idx: idx, data: data}, err
			})
		}
		readExec.Close()
		return nil
	})

	writeExec := jobexecutor.New(gctx, opts.Workers, jobexecutor.BlockingSubmit)

	var mu sync.Mutex
	var pending []database.Block
	var bytesRead, bytesWritten, bytesDeduplicated, bytesSparse int64

	flush := func() error {
		mu.Lock()
		defer mu.Unlock()
		if len(pending) == 0 {
			return nil
		}
		if err := eng.DB.CommitBlockBatch(ctx, versionUID, pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	appendPending := func(b database.Block) (flushNow bool) {
		mu.Lock()
		defer mu.Unlock()
		pending = append(pending, b)
		return len(pending) >= opts.BatchSize
	}

	// Drains writeExec concurrently with the write submissions the main
	// loop below makes, so BlockingSubmit's bounded semaphore recycles
	// instead of wedging the main loop against a full write backlog.
	g.Go(func() error {
		for {
			r, ok := writeExec.Next()
			if !ok {
				return nil
			}
			if r.Err != nil {
				return blockvaulterrors.Wrap(blockvaulterrors.KindInternal, r.Err, "writing block")
			}
			wr := r.Value.(writeResult)
			mu.Lock()
			bytesWritten += int64(wr.objectSize)
			mu.Unlock()
			uid := wr.uid
			if appendPending(database.Block{VersionUID: versionUID, Idx: wr.idx, UID: &uid, Checksum: wr.checksum, Size: wr.size}) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	})

	abort := func(cause error) (string, error) {
		readExec.Shutdown()
		writeExec.Shutdown()
		_ = g.Wait()
		logger.Error().Err(cause).Msg("backup aborted")
		metrics.BackupsCompletedTotal.WithLabelValues("failed").Inc()
		return "", cause
	}

	for {
		r, ok := readExec.Next()
		if !ok {
			break
		}
		rr := r.Value.(readResult)
		if r.Err != nil {
			return abort(blockvaulterrors.Wrap(blockvaulterrors.KindInputData, r.Err, "reading block %d", rr.idx))
		}

		blockSizeThisIdx := remainingBlockSize(size, blockSize, rr.idx)

		if rr.data == nil {
			bytesSparse += int64(blockSizeThisIdx)
			if appendPending(database.Block{VersionUID: versionUID, Idx: rr.idx, Size: blockSizeThisIdx}) {
				if err := flush(); err != nil {
					return abort(err)
				}
			}
			continue
		}

		bytesRead += int64(len(rr.data))
		digest, err := blockhash.Sum(eng.HashFunction, rr.data)
		if err != nil {
			return abort(err)
		}

		if existingUID, found, err := eng.DB.FindBlockByChecksum(ctx, storage.StorageID, digest.Checksum); err != nil {
			return abort(err)
		} else if found {
			bytesDeduplicated += int64(len(rr.data))
			if appendPending(database.Block{VersionUID: versionUID, Idx: rr.idx, UID: &existingUID, Checksum: digest.Checksum, Size: len(rr.data)}) {
				if err := flush(); err != nil {
					return abort(err)
				}
			}
			continue
		}

		if eng.Dedup.Contains(storage.Name, digest.UID) {
			bytesDeduplicated += int64(len(rr.data))
			uid := digest.UID
			appendPending(database.Block{VersionUID: versionUID, Idx: rr.idx, UID: &uid, Checksum: digest.Checksum, Size: len(rr.data)})
			continue
		}
		eng.Dedup.Add(storage.Name, digest.UID)

		data := rr.data
		idx := rr.idx
		writeExec.Submit(func(ctx context.Context) (any, error) {
			ciphertext, stages, err := storage.Chain.Encapsulate(data)
			if err != nil {
				return nil, err
			}
			meta := storagebackend.ObjectMetadata{
				Size: len(data), ObjectSize: len(ciphertext), Checksum: digest.Checksum, TransformsChain: stages,
			}
			err = storagebackend.Retry(ctx, func() error {
				return storage.Backend.WriteBlock(ctx, digest.UID, ciphertext, meta)
			})
			return writeResult{idx: idx, uid: digest.UID, checksum: digest.Checksum, size: len(data), objectSize: len(ciphertext)}, err
		})
	}

	writeExec.Close()
	if err := g.Wait(); err != nil {
		return abort(err)
	}

	if err := flush(); err != nil {
		return abort(err)
	}

	if err := eng.DB.FinalizeVersion(ctx, versionUID, database.Version{
		BytesRead: bytesRead, BytesWritten: bytesWritten, BytesDeduplicated: bytesDeduplicated,
		BytesSparse: bytesSparse, Duration: timer.Duration().Seconds(),
	}); err != nil {
		return abort(err)
	}

	metrics.BytesRead.Add(float64(bytesRead))
	metrics.BytesWritten.Add(float64(bytesWritten))
	metrics.BytesDeduplicated.Add(float64(bytesDeduplicated))
	metrics.BytesSparse.Add(float64(bytesSparse))
	metrics.BackupsCompletedTotal.WithLabelValues("valid").Inc()
	timer.ObserveDurationVec(metrics.BackupDuration, opts.Volume)
	logger.Info().Int64("bytes_read", bytesRead).Int64("bytes_written", bytesWritten).Int64("bytes_deduplicated", bytesDeduplicated).Msg("backup completed")

	return versionUID, nil
}

// remainingBlockSize returns block_size for every index except a possible
// short final block.
func remainingBlockSize(totalSize int64, blockSize int, idx int64) int {
	offset := idx * int64(blockSize)
	remaining := totalSize - offset
	if remaining < int64(blockSize) {
		return int(remaining)
	}
	return blockSize
}
