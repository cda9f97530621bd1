package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"clarion/internal/services"
)

func newTestController(policy Policy, slept *[]time.Duration) *Controller {
	return New(policy,
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			if slept != nil {
				*slept = append(*slept, d)
			}
			return nil
		}),
		WithJitter(func(d time.Duration) time.Duration { return d }),
	)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var slept []time.Duration
	ctrl := newTestController(Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, &slept)

	calls := 0
	transient := services.Wrap(services.ErrTransient, "enhancer", "enhance", "flaky", nil)
	err := ctrl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(slept))
	}
	if slept[0] != 100*time.Millisecond || slept[1] != 200*time.Millisecond {
		t.Fatalf("expected doubling backoff, got %v", slept)
	}
}

func TestDoStopsOnFatalError(t *testing.T) {
	ctrl := newTestController(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)

	calls := 0
	fatal := services.Wrap(services.ErrFatal, "enhancer", "enhance", "corrupt input", nil)
	err := ctrl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	}, nil)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fatal error must not retry, got %d calls", calls)
	}
}

func TestDoStopsOnValidationError(t *testing.T) {
	ctrl := newTestController(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)

	calls := 0
	invalid := services.Wrap(services.ErrValidation, "intake", "accept", "bad format", nil)
	err := ctrl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return invalid
	}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("validation error must not retry, got %d calls", calls)
	}
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	ctrl := newTestController(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)

	calls := 0
	transient := services.Wrap(services.ErrTransient, "enhancer", "enhance", "always down", nil)
	err := ctrl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	}, nil)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient cause preserved, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoRetriesStorageExactlyOnce(t *testing.T) {
	ctrl := newTestController(Policy{MaxAttempts: 10, BaseDelay: time.Millisecond}, nil)

	calls := 0
	storage := services.Wrap(services.ErrStorage, "artifactstore", "put", "disk hiccup", nil)
	err := ctrl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return storage
	}, nil)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("storage failures get one retry, got %d calls", calls)
	}
}

func TestDoStorageRecoversOnRetry(t *testing.T) {
	ctrl := newTestController(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, nil)

	calls := 0
	storage := services.Wrap(services.ErrStorage, "artifactstore", "put", "disk hiccup", nil)
	err := ctrl.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return storage
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctrl := New(Policy{MaxAttempts: 5, BaseDelay: time.Hour},
		WithJitter(func(d time.Duration) time.Duration { return d }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	transient := services.Wrap(services.ErrTransient, "enhancer", "enhance", "down", nil)
	err := ctrl.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return transient
	}, nil)
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoReportsRetriesInOrder(t *testing.T) {
	ctrl := newTestController(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)

	var observed []int
	transient := services.Wrap(services.ErrTransient, "enhancer", "enhance", "down", nil)
	_ = ctrl.Do(context.Background(), func(ctx context.Context) error {
		return transient
	}, func(a Attempt) {
		observed = append(observed, a.Number)
	})

	if len(observed) != 2 || observed[0] != 1 || observed[1] != 2 {
		t.Fatalf("unexpected retry observations: %v", observed)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	ctrl := newTestController(Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}, nil)

	for attempt := 1; attempt <= 10; attempt++ {
		if delay := ctrl.backoffDelay(attempt); delay > 300*time.Millisecond {
			t.Fatalf("attempt %d delay %v exceeds cap", attempt, delay)
		}
	}
}

func TestFullJitterWithinBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := fullJitter(time.Second)
		if d < 0 || d > time.Second {
			t.Fatalf("jittered delay %v out of bounds", d)
		}
	}
	if fullJitter(0) != 0 {
		t.Fatal("zero delay must stay zero")
	}
}
