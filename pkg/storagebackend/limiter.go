package storagebackend

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limits bounds the resource usage of a storage backend: concurrency caps
// and byte-rate token buckets for reads and writes.
type Limits struct {
	SimultaneousWrites int
	SimultaneousReads  int
	BandwidthRead      int // bytes/sec, 0 = unlimited; file and s3 ReadBlock charge each read as 1 byte
	BandwidthWrite     int // bytes/sec, 0 = unlimited
}

// DefaultLimits matches the original's single-outstanding-request default.
func DefaultLimits() Limits {
	return Limits{SimultaneousWrites: 1, SimultaneousReads: 1}
}

// Throttle enforces a backend's concurrency caps and bandwidth limits
// around its underlying IO calls.
type Throttle struct {
	writeSem *semaphore.Weighted
	readSem  *semaphore.Weighted
	writeLim *rate.Limiter
	readLim  *rate.Limiter
}

// NewThrottle builds a Throttle from Limits, defaulting unset concurrency
// caps to 1 outstanding request.
func NewThrottle(limits Limits) *Throttle {
	writes := limits.SimultaneousWrites
	if writes <= 0 {
		writes = 1
	}
	reads := limits.SimultaneousReads
	if reads <= 0 {
		reads = 1
	}

	t := &Throttle{
		writeSem: semaphore.NewWeighted(int64(writes)),
		readSem:  semaphore.NewWeighted(int64(reads)),
	}
	if limits.BandwidthWrite > 0 {
		t.writeLim = rate.NewLimiter(rate.Limit(limits.BandwidthWrite), limits.BandwidthWrite)
	}
	if limits.BandwidthRead > 0 {
		t.readLim = rate.NewLimiter(rate.Limit(limits.BandwidthRead), limits.BandwidthRead)
	}
	return t
}

// Write acquires the write concurrency slot, waits out the bandwidth
// budget for n bytes, and runs fn. n is capped at the limiter's burst (one
// second's budget), and a non-positive n is charged as 1.
func (t *Throttle) Write(ctx context.Context, n int, fn func() error) error {
	if err := t.writeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.writeSem.Release(1)
	if t.writeLim != nil {
		if err := t.writeLim.WaitN(ctx, clampBurst(n, t.writeLim.Burst())); err != nil {
			return err
		}
	}
	return fn()
}

// Read acquires the read concurrency slot, waits out the bandwidth budget
// for n bytes, and runs fn. n is capped and defaulted as in Write.
func (t *Throttle) Read(ctx context.Context, n int, fn func() error) error {
	if err := t.readSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.readSem.Release(1)
	if t.readLim != nil {
		if err := t.readLim.WaitN(ctx, clampBurst(n, t.readLim.Burst())); err != nil {
			return err
		}
	}
	return fn()
}

func clampBurst(n, burst int) int {
	if n > burst {
		return burst
	}
	if n <= 0 {
		return 1
	}
	return n
}

// RetryPolicy builds an exponential backoff policy for transient storage
// errors; data-integrity failures must never be retried through this.
func RetryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithContext(b, ctx)
}

// Retry runs fn under RetryPolicy, giving up once the policy's elapsed
// time budget is exhausted.
func Retry(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, RetryPolicy(ctx))
}
