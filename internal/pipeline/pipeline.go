// Package pipeline orchestrates the enhancement flow: intake, dedup against
// the result cache, job admission into the worker pool, retry around the
// enhancer, and artifact bookkeeping at job settlement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"clarion/internal/artifactstore"
	"clarion/internal/config"
	"clarion/internal/enhance"
	"clarion/internal/intake"
	"clarion/internal/logging"
	"clarion/internal/queue"
	"clarion/internal/resultcache"
	"clarion/internal/retry"
	"clarion/internal/scheduler"
	"clarion/internal/services"
)

// Outcome is the result of a submission.
type Outcome struct {
	JobID        string
	Status       queue.Status
	Fingerprint  string
	ArtifactID   string
	Deduplicated bool
	CacheHit     bool
}

// Pipeline wires the enhancement stages together and implements the worker
// pool's Processor.
type Pipeline struct {
	cfg       *config.Config
	store     *queue.Store
	artifacts *artifactstore.Store
	cache     *resultcache.Cache
	validator *intake.Validator
	enhancer  enhance.Enhancer
	retrier   *retry.Controller
	pool      *scheduler.Pool
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	running map[string]context.CancelCauseFunc
	wg      sync.WaitGroup
}

// errCancelled is the cancellation cause distinguishing a user cancel from a
// deadline or shutdown on a running job's context.
var errCancelled = errors.New(queue.CancelReason)

// New assembles a pipeline over the shared store and enhancer.
func New(cfg *config.Config, store *queue.Store, artifacts *artifactstore.Store, cache *resultcache.Cache, enhancer enhance.Enhancer, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		cache:     cache,
		validator: intake.NewValidator(cfg, logger),
		enhancer:  enhancer,
		retrier:   retry.New(retry.FromConfig(cfg)),
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		running:   make(map[string]context.CancelCauseFunc),
	}
	p.pool = scheduler.New(cfg.Pipeline.Workers, cfg.Pipeline.QueueDepth, p, logger)
	return p
}

// Start launches the worker pool and the background expiry sweep.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return services.Wrap(services.ErrConfiguration, "pipeline", "start", "pipeline already started", nil)
	}
	if err := p.pool.Start(ctx); err != nil {
		return err
	}
	p.started = true

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.wg.Add(1)
	go p.sweepLoop(sweepCtx)

	p.logger.Info("pipeline started")
	return nil
}

// Stop drains the worker pool and halts the sweep loop. Queued jobs that
// never reached a worker are failed with the shutdown reason.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := p.pool.Stop(ctx)
	p.wg.Wait()
	p.logger.Info("pipeline stopped")
	return err
}

// Submit validates and admits one upload. Identical content already cached
// returns the completed result immediately; identical content already in
// flight coalesces onto the running job.
func (p *Pipeline) Submit(ctx context.Context, r io.Reader, sourceName, contentType string) (*Outcome, error) {
	accepted, err := p.validator.Accept(ctx, r, sourceName, contentType)
	if err != nil {
		return nil, err
	}

	if outcome := p.cachedOutcome(ctx, accepted.Fingerprint); outcome != nil {
		p.discardStaged(accepted.StagedPath)
		return outcome, nil
	}

	// The registry outlives the in-memory flight table across restarts; an
	// active job it still holds for this fingerprint absorbs the submission.
	if _, inflight := p.cache.InFlight(accepted.Fingerprint); !inflight {
		if active, err := p.store.FindActiveByFingerprint(ctx, accepted.Fingerprint); err == nil && active != nil {
			p.logger.Info("submission deduplicated onto active job",
				logging.String(logging.FieldFingerprint, accepted.Fingerprint),
				logging.String(logging.FieldJobID, active.ID),
			)
			return &Outcome{
				JobID:        active.ID,
				Status:       active.Status,
				Fingerprint:  accepted.Fingerprint,
				Deduplicated: true,
			}, nil
		}
	}

	params := queue.NewJobParams{
		Fingerprint: accepted.Fingerprint,
		SourceName:  accepted.SourceName,
		ContentType: accepted.ContentType,
		ByteSize:    accepted.ByteSize,
	}
	if p.cfg.Artifacts.KeepInputs {
		input, err := p.artifacts.PutFile(ctx, queue.ArtifactInput, accepted.StagedPath, accepted.ContentType, false)
		if err != nil {
			p.discardStaged(accepted.StagedPath)
			return nil, err
		}
		params.InputArtifactID = input.ID
	}

	job, err := p.store.NewJob(ctx, params)
	if err != nil {
		p.discardStaged(accepted.StagedPath)
		return nil, services.Wrap(services.ErrStorage, "pipeline", "submit", "create job", err)
	}

	owner, leader := p.cache.Acquire(accepted.Fingerprint, job.ID)
	if !leader {
		// Another job owns this fingerprint; fold this submission onto it.
		if _, err := p.store.Remove(ctx, job.ID); err != nil {
			p.logger.Warn("remove duplicate job failed", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
		existing, err := p.store.GetByID(ctx, owner)
		if err != nil || existing == nil {
			return nil, services.Wrap(services.ErrStorage, "pipeline", "submit", "load deduplicated job", err)
		}
		p.logger.Info("submission deduplicated onto in-flight job",
			logging.String(logging.FieldFingerprint, accepted.Fingerprint),
			logging.String(logging.FieldJobID, owner),
		)
		return &Outcome{
			JobID:        existing.ID,
			Status:       existing.Status,
			Fingerprint:  accepted.Fingerprint,
			Deduplicated: true,
		}, nil
	}

	queued, err := p.store.MarkQueued(ctx, job.ID)
	if err != nil {
		p.reject(ctx, job.ID, accepted.Fingerprint, accepted.StagedPath)
		return nil, services.Wrap(services.ErrStorage, "pipeline", "submit", "queue job", err)
	}
	if err := p.pool.Submit(job.ID); err != nil {
		// No capacity: the submission is rejected outright, nothing admitted.
		p.reject(ctx, job.ID, accepted.Fingerprint, accepted.StagedPath)
		return nil, err
	}

	p.logger.Info("job admitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldFingerprint, accepted.Fingerprint),
		logging.Int("backlog", p.pool.Backlog()),
	)
	return &Outcome{
		JobID:       queued.ID,
		Status:      queued.Status,
		Fingerprint: accepted.Fingerprint,
	}, nil
}

// Cancel stops a job at the user's request. Jobs that have not reached a
// worker are failed directly; a running job has its context cancelled and
// settles through its worker.
func (p *Pipeline) Cancel(ctx context.Context, jobID string) (*queue.Job, error) {
	current, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "cancel", "load job", err)
	}
	if current == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "cancel", "job not found", nil)
	}

	if current.Status == queue.StatusRunning {
		p.mu.Lock()
		cancelJob, ok := p.running[jobID]
		p.mu.Unlock()
		if ok {
			cancelJob(errCancelled)
			p.logger.Info("cancellation signalled to running job", logging.String(logging.FieldJobID, jobID))
			return current, nil
		}
		// The worker settled between the read and the signal; let the store
		// report the terminal state below.
	}

	job, err := p.store.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "cancel", "job not found", nil)
	}
	p.cache.Abandon(job.Fingerprint)
	p.discardStaged(p.stagedPath(job))
	p.logger.Info("job cancelled", logging.String(logging.FieldJobID, jobID))
	return job, nil
}

// Job returns the current state of a job.
func (p *Pipeline) Job(ctx context.Context, jobID string) (*queue.Job, error) {
	job, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "pipeline", "job", "load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", "job", "job not found", nil)
	}
	return job, nil
}

// Formats returns the intake allowlist.
func (p *Pipeline) Formats() []string {
	return p.validator.AllowedFormats()
}

// Backlog reports scheduler occupancy for health output.
func (p *Pipeline) Backlog() (depth, capacity int) {
	return p.pool.Backlog(), p.pool.Depth()
}

// Process runs one job on a pool worker. All failure handling lands here:
// the job row, the result cache, and the staged input always settle
// together.
func (p *Pipeline) Process(ctx context.Context, jobID string) {
	logger := logging.WithContext(ctx, p.logger)

	job, err := p.store.GetByID(ctx, jobID)
	if err != nil {
		logger.Error("load job failed", logging.Error(err))
		return
	}
	if job == nil || job.Status != queue.StatusQueued {
		// Cancelled between admission and pickup.
		return
	}

	// Register the cancel hook before the running status becomes visible so a
	// cancel request can never observe a running job it cannot signal.
	jobCtx, cancelJob := context.WithCancelCause(ctx)
	defer cancelJob(nil)
	p.mu.Lock()
	p.running[jobID] = cancelJob
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
	}()

	if _, err := p.store.MarkRunning(ctx, jobID); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			// Another writer settled the job first.
			return
		}
		p.settleFailure(ctx, job, services.Wrap(services.ErrStorage, "pipeline", "process", "claim job", err), logger)
		return
	}

	var cancel context.CancelFunc
	if timeout := p.cfg.JobTimeout(); timeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, timeout)
		defer cancel()
	}

	artifact, err := p.runEnhancement(jobCtx, job, logger)
	if err != nil {
		if errors.Is(context.Cause(jobCtx), errCancelled) {
			p.settleCancelled(ctx, job, logger)
			return
		}
		p.settleFailure(ctx, job, err, logger)
		return
	}

	if _, err := p.store.MarkCompleted(ctx, jobID, artifact.ID); err != nil {
		logger.Error("mark completed failed", logging.Error(err))
		p.settleFailure(ctx, job, services.Wrap(services.ErrStorage, "pipeline", "process", "record completion", err), logger)
		return
	}
	p.cache.Complete(job.Fingerprint, jobID, artifact.ID)
	p.discardStaged(p.stagedPath(job))
	logger.Info("job completed", logging.String(logging.FieldArtifactID, artifact.ID))
}

// Abandon fails a job the pool never got to run, at shutdown.
func (p *Pipeline) Abandon(ctx context.Context, jobID string) {
	job, err := p.store.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	if _, err := p.store.MarkFailed(ctx, jobID, queue.ShutdownReason, string(services.KindUnknown)); err != nil {
		p.logger.Warn("abandon job failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
	p.cache.Abandon(job.Fingerprint)
	p.discardStaged(p.stagedPath(job))
}

func (p *Pipeline) runEnhancement(ctx context.Context, job *queue.Job, logger *slog.Logger) (*queue.Artifact, error) {
	inputPath := p.stagedPath(job)
	if _, err := os.Stat(inputPath); err != nil {
		if p.cfg.Artifacts.KeepInputs && job.InputArtifactID != "" {
			inputPath = p.artifacts.BlobPath(job.InputArtifactID)
		} else {
			return nil, services.Wrap(services.ErrFatal, "pipeline", "process", "staged input missing", err)
		}
	}
	outputPath := inputPath + ".enhanced" + p.jobFormat(job)

	var artifact *queue.Artifact
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		_ = os.Remove(outputPath)
		if err := p.enhancer.Enhance(ctx, enhance.Request{
			InputPath:  inputPath,
			OutputPath: outputPath,
			Format:     p.jobFormat(job),
		}); err != nil {
			return err
		}
		stored, err := p.artifacts.PutFile(ctx, queue.ArtifactOutput, outputPath, job.ContentType, true)
		if err != nil {
			return err
		}
		artifact = stored
		return nil
	}, func(attempt retry.Attempt) {
		logger.Warn("attempt failed, retrying",
			logging.Int("attempt", attempt.Number),
			logging.Duration("backoff", attempt.Delay),
			logging.Error(attempt.Err),
		)
		if recordErr := p.store.RecordAttempt(ctx, job.ID, attempt.Number, attempt.Err.Error()); recordErr != nil {
			logger.Warn("record attempt failed", logging.Error(recordErr))
		}
	})
	if err != nil {
		_ = os.Remove(outputPath)
		return nil, err
	}
	return artifact, nil
}

func (p *Pipeline) settleFailure(ctx context.Context, job *queue.Job, cause error, logger *slog.Logger) {
	kind := services.Classify(cause)
	if _, err := p.store.MarkFailed(ctx, job.ID, cause.Error(), string(kind)); err != nil {
		logger.Error("mark failed failed", logging.Error(err))
	}
	p.cache.Abandon(job.Fingerprint)
	p.discardStaged(p.stagedPath(job))
	logger.Error("job failed",
		logging.String("error_kind", string(kind)),
		logging.Error(cause),
	)
}

// settleCancelled finalizes a running job whose context was cancelled at the
// user's request.
func (p *Pipeline) settleCancelled(ctx context.Context, job *queue.Job, logger *slog.Logger) {
	if _, err := p.store.MarkFailed(ctx, job.ID, queue.CancelReason, ""); err != nil {
		logger.Error("mark cancelled failed", logging.Error(err))
	}
	p.cache.Abandon(job.Fingerprint)
	p.discardStaged(p.stagedPath(job))
	logger.Info("job cancelled while running")
}

// reject unwinds a submission that was admitted partway: the provisional job
// row, the fingerprint claim, and the staged file all go.
func (p *Pipeline) reject(ctx context.Context, jobID, fp, stagedPath string) {
	p.cache.Abandon(fp)
	if _, err := p.store.Remove(ctx, jobID); err != nil {
		p.logger.Warn("remove rejected job failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
	p.discardStaged(stagedPath)
}

func (p *Pipeline) discardStaged(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("remove staged file failed", logging.String("path", path), logging.Error(err))
	}
}

// cachedOutcome serves a repeat submission from the result cache after
// verifying the artifact still exists; a swept artifact invalidates the
// entry lazily.
func (p *Pipeline) cachedOutcome(ctx context.Context, fp string) *Outcome {
	cached, ok := p.cache.Lookup(fp)
	if !ok {
		return nil
	}
	artifact, err := p.store.GetArtifact(ctx, cached.ArtifactID)
	if err != nil || artifact == nil || time.Now().After(artifact.ExpiresAt) {
		p.cache.Invalidate(fp)
		return nil
	}
	p.logger.Info("served from result cache",
		logging.String(logging.FieldFingerprint, fp),
		logging.String(logging.FieldJobID, cached.JobID),
	)
	return &Outcome{
		JobID:       cached.JobID,
		Status:      queue.StatusCompleted,
		Fingerprint: fp,
		ArtifactID:  cached.ArtifactID,
		CacheHit:    true,
	}
}

func (p *Pipeline) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.cfg.SweepInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.artifacts.Sweep(ctx, time.Now()); err != nil {
				p.logger.Warn("artifact sweep failed", logging.Error(err))
			}
			expired, err := p.store.ExpireStale(ctx, p.cfg.JobTTL())
			if err != nil {
				p.logger.Warn("job expiry sweep failed", logging.Error(err))
				continue
			}
			for _, job := range expired {
				p.cache.Abandon(job.Fingerprint)
				p.discardStaged(p.stagedPath(job))
			}
		}
	}
}

func (p *Pipeline) stagedPath(job *queue.Job) string {
	return filepath.Join(p.cfg.Paths.StagingDir, job.Fingerprint+p.jobFormat(job))
}

func (p *Pipeline) jobFormat(job *queue.Job) string {
	return strings.ToLower(filepath.Ext(job.SourceName))
}

// String renders a short occupancy summary for logs.
func (p *Pipeline) String() string {
	backlog, depth := p.Backlog()
	return fmt.Sprintf("pipeline(workers=%d backlog=%d/%d)", p.pool.Workers(), backlog, depth)
}
