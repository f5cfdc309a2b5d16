package memory

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kokoro-agent/kokoro/pkg/errors"
)

// maxReaders bounds concurrent shared holders. A writer takes every
// slot, which is what makes the discipline single-writer.
const maxReaders = 64

// Lease serializes access to the store: at most one exclusive holder
// at a time, any number of shared holders otherwise (bounded by
// maxReaders). Acquisition waits up to the configured timeout and then
// fails with Busy rather than queuing forever.
type Lease struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLease creates a lease with the given acquisition timeout.
func NewLease(timeout time.Duration) *Lease {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Lease{
		sem:     semaphore.NewWeighted(maxReaders),
		timeout: timeout,
	}
}

// AcquireExclusive blocks until no other holder remains, the timeout
// expires, or ctx is cancelled. The returned release function must be
// called exactly once, typically deferred.
func (l *Lease) AcquireExclusive(ctx context.Context) (func(), error) {
	return l.acquire(ctx, maxReaders)
}

// AcquireShared blocks only while an exclusive holder is active.
func (l *Lease) AcquireShared(ctx context.Context) (func(), error) {
	return l.acquire(ctx, 1)
}

func (l *Lease) acquire(ctx context.Context, weight int64) (func(), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.sem.Acquire(acquireCtx, weight); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Wrap(errors.CodeBusy, "memory lease acquisition timed out", err)
		}
		return nil, errors.Wrap(errors.CodeBusy, "memory lease acquisition cancelled", err)
	}
	var released bool
	return func() {
		if released {
			return
		}
		released = true
		l.sem.Release(weight)
	}, nil
}
