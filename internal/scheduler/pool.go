// Package scheduler runs the bounded worker pool. A fixed-depth channel is
// the backlog; when it is full Submit fails fast instead of blocking, which
// is how backpressure reaches the HTTP surface as 503s.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"clarion/internal/logging"
	"clarion/internal/services"
)

// Processor handles one queued job. Implementations own all error handling;
// the pool only moves job IDs.
type Processor interface {
	Process(ctx context.Context, jobID string)
	Abandon(ctx context.Context, jobID string)
}

// Pool dispatches queued job IDs to a fixed set of workers.
type Pool struct {
	workers   int
	jobs      chan string
	processor Processor
	logger    *slog.Logger

	mu       sync.Mutex
	started  bool
	stopping atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a pool with the given worker count and backlog depth.
func New(workers, depth int, processor Processor, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	return &Pool{
		workers:   workers,
		jobs:      make(chan string, depth),
		processor: processor,
		logger:    logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Start launches the workers. It is an error to start a pool twice.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return services.Wrap(services.ErrConfiguration, "scheduler", "start", "pool already started", nil)
	}
	p.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
	p.logger.Info("worker pool started",
		logging.Int("workers", p.workers),
		logging.Int("depth", cap(p.jobs)),
	)
	return nil
}

// Submit enqueues a job ID without blocking. A full backlog or a stopping
// pool both reject the submission.
func (p *Pool) Submit(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping.Load() {
		return services.Wrap(services.ErrCapacity, "scheduler", "submit", "pool is shutting down", nil)
	}
	select {
	case p.jobs <- jobID:
		return nil
	default:
		return services.Wrap(services.ErrCapacity, "scheduler", "submit", "backlog is full", nil)
	}
}

// Backlog reports how many jobs are waiting for a worker.
func (p *Pool) Backlog() int {
	return len(p.jobs)
}

// Depth reports the backlog capacity.
func (p *Pool) Depth() int {
	return cap(p.jobs)
}

// Workers reports the worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Stop shuts the pool down gracefully: submissions stop, in-progress jobs
// run to completion, and jobs still in the backlog are handed to the
// processor's Abandon hook. The context bounds how long Stop waits.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopping.Load() {
		p.mu.Unlock()
		return nil
	}
	p.stopping.Store(true)
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = services.Wrap(services.ErrTimeout, "scheduler", "stop", "workers did not drain in time", ctx.Err())
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) worker(ctx context.Context, index int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", index))

	for jobID := range p.jobs {
		if p.stopping.Load() {
			p.processor.Abandon(ctx, jobID)
			continue
		}
		logger.Debug("worker picked up job", logging.String(logging.FieldJobID, jobID))
		p.processor.Process(services.WithJobID(ctx, jobID), jobID)
	}
}
