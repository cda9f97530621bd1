package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clarion/internal/client"
)

func newFakeDaemon(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.New(srv.URL)
}

func TestSubmitUploadsMultipart(t *testing.T) {
	var gotFilename string
	c := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			http.Error(w, "bad upload", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"job_id": "job-1", "status": "queued"})
	})

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	result, err := c.Submit(context.Background(), path)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.JobID != "job-1" || result.Status != "queued" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if gotFilename != "clip.wav" {
		t.Fatalf("expected filename forwarded, got %q", gotFilename)
	}
}

func TestErrorResponsesSurfaceAsAPIError(t *testing.T) {
	c := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "backlog is full"})
	})

	_, err := c.Job(context.Background(), "job-x")
	apiErr, ok := err.(*client.APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "backlog is full" {
		t.Fatalf("unexpected error: %#v", apiErr)
	}
}

func TestWaitForJobPollsUntilTerminal(t *testing.T) {
	calls := 0
	c := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "running"
		if calls >= 3 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "job-2", "status": status})
	})

	job, err := c.WaitForJob(context.Background(), "job-2", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForJob failed: %v", err)
	}
	if job.Status != "completed" {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestDownloadWritesFileAtomically(t *testing.T) {
	c := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("enhanced audio"))
	})

	dest := filepath.Join(t.TempDir(), "out.wav")
	if err := c.Download(context.Background(), "artifact-1", dest); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if string(got) != "enhanced audio" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
}

func TestDownloadMissingArtifact(t *testing.T) {
	c := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "artifact not found"})
	})

	dest := filepath.Join(t.TempDir(), "missing.wav")
	err := c.Download(context.Background(), "artifact-gone", dest)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("no file should be written on error")
	}
}

func TestJobsFilterQuery(t *testing.T) {
	c := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "queued,running" {
			t.Errorf("unexpected status filter %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"jobs": []map[string]string{{"id": "a"}, {"id": "b"}}})
	})

	jobs, err := c.Jobs(context.Background(), "queued", "running")
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
}

func TestClearJobs(t *testing.T) {
	c := newFakeDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/clear" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int64{"removed": 3})
	})

	removed, err := c.ClearJobs(context.Background())
	if err != nil {
		t.Fatalf("ClearJobs failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
}
