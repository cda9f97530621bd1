package services_test

import (
	"errors"
	"strings"
	"testing"

	"clarion/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrFatal, "enhancer", "run", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"enhancer", "run", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "store", "put", "write failed", errors.New("io"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected nil marker to default to transient, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		expect services.Kind
	}{
		{"validation", services.Wrap(services.ErrValidation, "intake", "check", "bad extension", nil), services.KindValidation},
		{"capacity", services.Wrap(services.ErrCapacity, "scheduler", "submit", "queue full", nil), services.KindCapacity},
		{"timeout", services.Wrap(services.ErrTimeout, "enhancer", "run", "deadline", nil), services.KindTimeout},
		{"transient", services.Wrap(services.ErrTransient, "enhancer", "run", "exit 1", nil), services.KindTransient},
		{"storage", services.Wrap(services.ErrStorage, "artifacts", "put", "disk", nil), services.KindStorage},
		{"not found", services.Wrap(services.ErrNotFound, "artifacts", "open", "missing", nil), services.KindNotFound},
		{"fatal", services.Wrap(services.ErrFatal, "enhancer", "run", "rejected", nil), services.KindFatal},
		{"unmarked", errors.New("bare"), services.KindUnknown},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.expect {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.expect, got)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrTimeout, "enhancer", "run", "deadline", nil)) {
		t.Fatal("expected timeout to be retryable")
	}
	if !services.Retryable(services.Wrap(services.ErrStorage, "artifacts", "put", "disk", nil)) {
		t.Fatal("expected storage failure to be retryable")
	}
	if services.Retryable(services.Wrap(services.ErrFatal, "enhancer", "run", "rejected", nil)) {
		t.Fatal("expected fatal to be non-retryable")
	}
	if services.Retryable(nil) {
		t.Fatal("expected nil to be non-retryable")
	}
}
