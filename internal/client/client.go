// Package client is the HTTP client for the clarion daemon API, used by the
// command line tool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SubmitResult is the daemon's response to an upload.
type SubmitResult struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Fingerprint  string `json:"fingerprint"`
	ArtifactID   string `json:"artifact_id"`
	DownloadURL  string `json:"download_url"`
	Deduplicated bool   `json:"deduplicated"`
	CacheHit     bool   `json:"cache_hit"`
}

// Job mirrors the daemon's job view.
type Job struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	SourceName       string `json:"source_name"`
	ContentType      string `json:"content_type"`
	ByteSize         int64  `json:"byte_size"`
	Fingerprint      string `json:"fingerprint"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"last_error"`
	ErrorKind        string `json:"error_kind"`
	OutputArtifactID string `json:"output_artifact_id"`
	DownloadURL      string `json:"download_url"`
	SubmittedAt      string `json:"submitted_at"`
	StartedAt        string `json:"started_at"`
	CompletedAt      string `json:"completed_at"`
}

// Formats mirrors the daemon's formats payload.
type Formats struct {
	SupportedFormats []string `json:"supported_formats"`
	MaxUploadBytes   int64    `json:"max_upload_bytes"`
}

// Health mirrors the daemon's health payload.
type Health struct {
	Running      bool `json:"running"`
	Backlog      int  `json:"backlog"`
	BacklogDepth int  `json:"backlog_depth"`
	Jobs         struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Queued    int `json:"queued"`
		Running   int `json:"running"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
		Expired   int `json:"expired"`
	} `json:"jobs"`
	QueueDBPath   string `json:"queue_db_path"`
	ListenAddress string `json:"listen_address"`
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a clarion daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a client for the daemon at baseURL (host:port or full URL).
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit uploads a file for enhancement.
func (c *Client) Submit(ctx context.Context, path string) (*SubmitResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result SubmitResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Job fetches the current state of a job.
func (c *Client) Job(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.get(ctx, "/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Jobs lists jobs, optionally filtered by status names.
func (c *Client) Jobs(ctx context.Context, statuses ...string) ([]Job, error) {
	path := "/jobs/"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var payload struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

// Cancel asks the daemon to cancel a job. Running jobs settle shortly after
// the cancellation is signalled.
func (c *Client) Cancel(ctx context.Context, jobID string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs/"+url.PathEscape(jobID)+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := c.do(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ClearJobs removes finished jobs from the daemon's registry and reports how
// many were deleted.
func (c *Client) ClearJobs(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs/clear", nil)
	if err != nil {
		return 0, err
	}
	var payload struct {
		Removed int64 `json:"removed"`
	}
	if err := c.do(req, &payload); err != nil {
		return 0, err
	}
	return payload.Removed, nil
}

// Formats fetches the intake allowlist.
func (c *Client) Formats(ctx context.Context) (*Formats, error) {
	var formats Formats
	if err := c.get(ctx, "/formats", &formats); err != nil {
		return nil, err
	}
	return &formats, nil
}

// Health fetches daemon diagnostics.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.get(ctx, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Download streams an artifact to destPath.
func (c *Client) Download(ctx context.Context, artifactID, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+url.PathEscape(artifactID), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	tmp := destPath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", destPath, err)
	}
	return os.Rename(tmp, destPath)
}

// WaitForJob polls until the job reaches a terminal status or the context
// expires.
func (c *Client) WaitForJob(ctx context.Context, jobID string, poll time.Duration) (*Job, error) {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		job, err := c.Job(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case "completed", "failed", "expired":
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, into)
}

func (c *Client) do(req *http.Request, into any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	message := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
