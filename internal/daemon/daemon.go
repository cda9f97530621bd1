// Package daemon runs the enhancement service: it enforces single-instance
// execution with a lock file, owns the shared stores, and exposes the HTTP
// API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"clarion/internal/artifactstore"
	"clarion/internal/config"
	"clarion/internal/logging"
	"clarion/internal/pipeline"
	"clarion/internal/queue"
)

// Daemon coordinates the pipeline and API server and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	artifacts *artifactstore.Store
	pipeline  *pipeline.Pipeline
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool                 `json:"running"`
	Jobs          queue.HealthSummary  `json:"jobs"`
	Backlog       int                  `json:"backlog"`
	BacklogDepth  int                  `json:"backlog_depth"`
	Database      queue.DatabaseHealth `json:"database"`
	Artifacts     artifactstore.Usage  `json:"artifacts"`
	QueueDBPath   string               `json:"queue_db_path"`
	LockFilePath  string               `json:"lock_file_path"`
	ListenAddress string               `json:"listen_address"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, artifacts *artifactstore.Store, p *pipeline.Pipeline, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || artifacts == nil || p == nil || logger == nil {
		return nil, errors.New("daemon requires config, stores, pipeline, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "clariond.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		artifacts: artifacts,
		pipeline:  p,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, starts the pipeline, and begins serving
// the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another clarion daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.pipeline.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = d.pipeline.Stop(stopCtx)
		stopCancel()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("clarion daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.Address()),
	)
	return nil
}

// Stop shuts the API down, drains the pipeline, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.pipeline.Stop(stopCtx); err != nil {
		d.logger.Warn("pipeline drain incomplete", logging.Error(err))
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("clarion daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Address reports where the API is listening, once started.
func (d *Daemon) Address() string {
	return d.api.Address()
}

// Status gathers runtime diagnostics.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		QueueDBPath:   d.store.Path(),
		LockFilePath:  d.lockPath,
		ListenAddress: d.api.Address(),
	}
	status.Backlog, status.BacklogDepth = d.pipeline.Backlog()

	if jobs, err := d.store.Health(ctx); err == nil {
		status.Jobs = jobs
	} else {
		d.logger.Warn("job health lookup failed", logging.Error(err))
	}
	if db, err := d.store.CheckHealth(ctx); err == nil {
		status.Database = db
	} else {
		status.Database.Error = err.Error()
	}
	if usage, err := d.artifacts.Stats(ctx); err == nil {
		status.Artifacts = usage
	}
	return status
}
