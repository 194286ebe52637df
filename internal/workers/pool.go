// ABOUTME: Worker pool draining one job kind from the persistent queue
// ABOUTME: Claims jobs FIFO, runs the processor, and records the outcome

package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborbot/harbor/internal/store"
)

const (
	defaultWorkers      = 3
	defaultPollInterval = 2 * time.Second
	defaultStuckAfter   = 10 * time.Minute
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Kind is the job kind this pool drains.
	Kind string

	Workers   int
	Jobs      store.JobStore
	Processor Processor

	// PollInterval is how long an idle worker sleeps between claim attempts.
	PollInterval time.Duration

	// StuckAfter is the age past which a processing job is presumed orphaned
	// by an unclean shutdown and returned to pending on startup.
	StuckAfter time.Duration

	Logger *slog.Logger
}

// Pool runs N workers draining one kind of job. Each worker claims the oldest
// pending job, runs the processor, and marks the job completed or failed.
type Pool struct {
	kind      string
	workers   int
	jobs      store.JobStore
	processor Processor

	pollInterval time.Duration
	stuckAfter   time.Duration
	logger       *slog.Logger

	wg sync.WaitGroup
}

// NewPool creates a Pool, applying defaults for anything unset.
func NewPool(opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	stuckAfter := opts.StuckAfter
	if stuckAfter == 0 {
		stuckAfter = defaultStuckAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		kind:         opts.Kind,
		workers:      workers,
		jobs:         opts.Jobs,
		processor:    opts.Processor,
		pollInterval: pollInterval,
		stuckAfter:   stuckAfter,
		logger:       logger.With("component", "workers", "kind", opts.Kind),
	}
}

// Start recovers orphaned jobs and launches the workers. The workers run
// until ctx is cancelled; call Wait to block for their exit.
func (p *Pool) Start(ctx context.Context) error {
	reset, err := p.jobs.ResetStuckJobs(ctx, p.stuckAfter)
	if err != nil {
		return fmt.Errorf("recovering stuck %s jobs: %w", p.kind, err)
	}
	if reset > 0 {
		p.logger.Warn("requeued jobs orphaned by a previous run", "count", reset)
	}

	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("%s-%s", p.kind, uuid.New().String()[:8])
		p.wg.Add(1)
		go p.worker(ctx, workerID)
	}
	p.logger.Info("worker pool started", "workers", p.workers)
	return nil
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	logger := p.logger.With("worker", workerID)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.jobs.ClaimNextJob(ctx, p.kind, workerID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				logger.Error("claiming job failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.runJob(ctx, logger, job)
	}
}

func (p *Pool) runJob(ctx context.Context, logger *slog.Logger, job *store.Job) {
	logger.Info("job claimed", "job_id", job.ID, "retry", job.RetryCount)

	note, err := p.processor.Process(ctx, job)
	if err != nil {
		logger.Error("job failed", "job_id", job.ID, "error", err)
		if failErr := p.jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			logger.Error("recording job failure failed", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := p.jobs.CompleteJob(ctx, job.ID); err != nil {
		logger.Error("recording job completion failed", "job_id", job.ID, "error", err)
		return
	}
	logger.Info("job completed", "job_id", job.ID, "note", note)
}
