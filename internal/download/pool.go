package download

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds simultaneous background transfers
const DefaultConcurrency = 3

// Job is a unit of background work. ctx is cancelled when the pool closes.
type Job func(ctx context.Context)

// Pool runs submitted jobs with a fixed concurrency limit.
// Submit never blocks the caller; jobs beyond the limit wait for a free slot
// in no particular order.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool allowing limit concurrent jobs
func NewPool(limit int) *Pool {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(limit)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues job. If the pool is closed before the job gets a slot, the
// job runs anyway with a cancelled context so callers always observe completion.
func (p *Pool) Submit(job Job) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			job(p.ctx)
			return
		}
		defer p.sem.Release(1)
		job(p.ctx)
	}()
}

// Wait blocks until every submitted job has returned
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close cancels in-flight jobs and waits for them to return
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}
