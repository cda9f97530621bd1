package pipeline_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"clarion/internal/artifactstore"
	"clarion/internal/config"
	"clarion/internal/enhance"
	"clarion/internal/fingerprint"
	"clarion/internal/logging"
	"clarion/internal/pipeline"
	"clarion/internal/queue"
	"clarion/internal/resultcache"
	"clarion/internal/services"
	"clarion/internal/testsupport"
)

type fixture struct {
	cfg      *config.Config
	store    *queue.Store
	pipeline *pipeline.Pipeline
}

func newFixture(t *testing.T, enhancer enhance.Enhancer, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	cfg.Retry.BaseDelayMS = 1
	cfg.Retry.MaxDelayMS = 5

	store := testsupport.MustOpenStore(t, cfg)
	artifacts := artifactstore.New(cfg, store, logging.NewNop())
	cache := resultcache.New(cfg.Cache.Capacity, cfg.CacheTTL())
	p := pipeline.New(cfg, store, artifacts, cache, enhancer, logging.NewNop())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("pipeline Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})

	return &fixture{cfg: cfg, store: store, pipeline: p}
}

func (f *fixture) waitForTerminal(t *testing.T, jobID string) *queue.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, err := f.store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if job != nil && job.IsTerminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never settled, last: %#v", jobID, job)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	f := newFixture(t, enhance.NewStub())

	outcome, err := f.pipeline.Submit(context.Background(), strings.NewReader("clean this audio"), "memo.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if outcome.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", outcome.Status)
	}

	job := f.waitForTerminal(t, outcome.JobID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.LastError)
	}
	if job.OutputArtifactID == "" {
		t.Fatal("expected output artifact recorded")
	}
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	transient := services.Wrap(services.ErrTransient, "enhancer", "enhance", "engine busy", nil)
	stub := enhance.NewStub(transient, transient)
	f := newFixture(t, stub)

	outcome, err := f.pipeline.Submit(context.Background(), strings.NewReader("retry me"), "retry.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := f.waitForTerminal(t, outcome.JobID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completion after retries, got %s (%s)", job.Status, job.LastError)
	}
	if stub.Calls() != 3 {
		t.Fatalf("expected 3 enhancer calls, got %d", stub.Calls())
	}
	if job.Attempts != 2 {
		t.Fatalf("expected 2 recorded failed attempts, got %d", job.Attempts)
	}
}

func TestFatalFailureDoesNotRetry(t *testing.T) {
	fatal := services.Wrap(services.ErrFatal, "enhancer", "enhance", "corrupt input", nil)
	stub := enhance.NewStub(fatal)
	f := newFixture(t, stub)

	outcome, err := f.pipeline.Submit(context.Background(), strings.NewReader("broken"), "broken.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job := f.waitForTerminal(t, outcome.JobID)
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if stub.Calls() != 1 {
		t.Fatalf("fatal error must not retry, got %d calls", stub.Calls())
	}
	if job.ErrorKind != string(services.KindFatal) {
		t.Fatalf("expected fatal error kind, got %q", job.ErrorKind)
	}
}

func TestRepeatSubmissionServedFromCache(t *testing.T) {
	stub := enhance.NewStub()
	f := newFixture(t, stub)

	first, err := f.pipeline.Submit(context.Background(), strings.NewReader("cache me"), "one.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	done := f.waitForTerminal(t, first.JobID)
	if done.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	second, err := f.pipeline.Submit(context.Background(), strings.NewReader("cache me"), "two.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("expected cache hit")
	}
	if second.JobID != first.JobID {
		t.Fatalf("cache hit should reference the original job, got %s want %s", second.JobID, first.JobID)
	}
	if second.ArtifactID != done.OutputArtifactID {
		t.Fatalf("cache hit should carry the original artifact, got %s", second.ArtifactID)
	}
	if stub.Calls() != 1 {
		t.Fatalf("cache hit must not rerun the enhancer, got %d calls", stub.Calls())
	}
}

func TestConcurrentIdenticalSubmissionsCoalesce(t *testing.T) {
	// Hold the enhancer so the first job stays in flight while the second
	// identical submission arrives.
	gate := make(chan struct{})
	blocking := &gatedEnhancer{gate: gate, inner: enhance.NewStub()}
	f := newFixture(t, blocking)

	first, err := f.pipeline.Submit(context.Background(), strings.NewReader("identical"), "a.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	second, err := f.pipeline.Submit(context.Background(), strings.NewReader("identical"), "b.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !second.Deduplicated {
		t.Fatal("expected second submission deduplicated")
	}
	if second.JobID != first.JobID {
		t.Fatalf("expected coalesced job ID %s, got %s", first.JobID, second.JobID)
	}

	close(gate)
	job := f.waitForTerminal(t, first.JobID)
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.LastError)
	}

	// Only one job row should exist for the fingerprint.
	jobs, err := f.store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected a single job, got %d", len(jobs))
	}
}

func TestSubmitRejectsWhenSaturated(t *testing.T) {
	gate := make(chan struct{})
	blocking := &gatedEnhancer{gate: gate, inner: enhance.NewStub()}
	f := newFixture(t, blocking, testsupport.WithWorkers(1), testsupport.WithQueueDepth(1))
	t.Cleanup(func() { close(gate) })

	// Distinct payloads so dedup does not absorb the load.
	if _, err := f.pipeline.Submit(context.Background(), strings.NewReader("payload-1"), "a.wav", ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitUntil(t, func() bool {
		backlog, _ := f.pipeline.Backlog()
		return backlog == 0
	})
	if _, err := f.pipeline.Submit(context.Background(), strings.NewReader("payload-2"), "b.wav", ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err := f.pipeline.Submit(context.Background(), strings.NewReader("payload-3"), "c.wav", "")
	if !errors.Is(err, services.ErrCapacity) {
		t.Fatalf("expected capacity rejection, got %v", err)
	}

	// The rejected submission must leave no job behind.
	jobs, listErr := f.store.List(context.Background())
	if listErr != nil {
		t.Fatalf("List failed: %v", listErr)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 admitted jobs, got %d", len(jobs))
	}
}

func TestCancelQueuedJobReleasesFingerprint(t *testing.T) {
	gate := make(chan struct{})
	blocking := &gatedEnhancer{gate: gate, inner: enhance.NewStub()}
	f := newFixture(t, blocking, testsupport.WithWorkers(1), testsupport.WithQueueDepth(4))
	t.Cleanup(func() { close(gate) })

	// Occupy the only worker so the next job stays queued.
	if _, err := f.pipeline.Submit(context.Background(), strings.NewReader("occupier"), "x.wav", ""); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitUntil(t, func() bool {
		backlog, _ := f.pipeline.Backlog()
		return backlog == 0
	})

	queued, err := f.pipeline.Submit(context.Background(), strings.NewReader("cancel target"), "y.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	cancelled, err := f.pipeline.Cancel(context.Background(), queued.JobID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != queue.StatusFailed || cancelled.LastError != queue.CancelReason {
		t.Fatalf("unexpected cancel result: %#v", cancelled)
	}

	// The fingerprint is free again for a fresh submission.
	fresh, err := f.pipeline.Submit(context.Background(), strings.NewReader("cancel target"), "y.wav", "")
	if err != nil {
		t.Fatalf("Submit after cancel failed: %v", err)
	}
	if fresh.Deduplicated || fresh.CacheHit {
		t.Fatalf("expected fresh job after cancel, got %#v", fresh)
	}
}

func TestCancelRunningJobStopsEnhancer(t *testing.T) {
	gate := make(chan struct{})
	blocking := &gatedEnhancer{gate: gate, inner: enhance.NewStub()}
	f := newFixture(t, blocking)
	t.Cleanup(func() { close(gate) })

	out, err := f.pipeline.Submit(context.Background(), strings.NewReader("interrupt me"), "live.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitUntil(t, func() bool {
		job, err := f.store.GetByID(context.Background(), out.JobID)
		return err == nil && job != nil && job.Status == queue.StatusRunning
	})

	if _, err := f.pipeline.Cancel(context.Background(), out.JobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	job := f.waitForTerminal(t, out.JobID)
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed after running cancel, got %s", job.Status)
	}
	if job.LastError != queue.CancelReason {
		t.Fatalf("expected cancel reason, got %q", job.LastError)
	}
}

func TestStagedInputRemovedAtSettlement(t *testing.T) {
	f := newFixture(t, enhance.NewStub())

	out, err := f.pipeline.Submit(context.Background(), strings.NewReader("transient payload"), "tidy.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	f.waitForTerminal(t, out.JobID)

	entries, err := os.ReadDir(f.cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		t.Fatalf("staging directory not emptied, found %s", entry.Name())
	}
}

func TestSubmissionCoalescesOntoRegistryJob(t *testing.T) {
	// A fresh pipeline has an empty flight table; active jobs in the registry
	// must still absorb identical submissions.
	f := newFixture(t, enhance.NewStub())

	payload := "survives restarts"
	fp, _, err := fingerprint.FromReader(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("FromReader failed: %v", err)
	}
	existing, err := f.store.NewJob(context.Background(), queue.NewJobParams{
		Fingerprint: fp,
		SourceName:  "earlier.wav",
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if _, err := f.store.MarkQueued(context.Background(), existing.ID); err != nil {
		t.Fatalf("MarkQueued failed: %v", err)
	}

	out, err := f.pipeline.Submit(context.Background(), strings.NewReader(payload), "later.wav", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !out.Deduplicated || out.JobID != existing.ID {
		t.Fatalf("expected coalescing onto %s, got %#v", existing.ID, out)
	}
}

func TestSubmitRejectsBadFormat(t *testing.T) {
	f := newFixture(t, enhance.NewStub())

	_, err := f.pipeline.Submit(context.Background(), strings.NewReader("nope"), "malware.exe", "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestJobLookup(t *testing.T) {
	f := newFixture(t, enhance.NewStub())

	_, err := f.pipeline.Job(context.Background(), "missing-job")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type gatedEnhancer struct {
	gate  chan struct{}
	inner enhance.Enhancer
}

func (g *gatedEnhancer) Enhance(ctx context.Context, req enhance.Request) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.inner.Enhance(ctx, req)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
