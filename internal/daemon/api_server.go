package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clarion/internal/config"
	"clarion/internal/logging"
	"clarion/internal/pipeline"
	"clarion/internal/queue"
	"clarion/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(srv.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", srv.handleRoot)
	r.Get("/health", srv.handleHealth)
	r.Get("/formats", srv.handleFormats)
	r.Post("/process", srv.handleProcess)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", srv.handleJobList)
		r.Post("/clear", srv.handleJobClear)
		r.Get("/{jobID}", srv.handleJobStatus)
		r.Post("/{jobID}/cancel", srv.handleJobCancel)
	})
	r.Get("/download/{artifactID}", srv.handleDownload)

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Address reports the bound listen address, empty before start.
func (s *apiServer) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
		)
	})
}

func (s *apiServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "clarion",
		"message": "audio enhancement service",
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	code := http.StatusOK
	if !status.Database.DatabaseReadable {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *apiServer) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"supported_formats": s.daemon.pipeline.Formats(),
		"max_upload_bytes":  s.daemon.cfg.MaxUploadBytes(),
	})
}

// handleProcess accepts an upload either as multipart form data under the
// "file" field or as a raw body with the filename in X-Filename.
func (s *apiServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	var (
		outcome *pipelineOutcome
		err     error
	)

	mediaType, _, parseErr := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if parseErr == nil && mediaType == "multipart/form-data" {
		outcome, err = s.acceptMultipart(r)
	} else {
		outcome, err = s.acceptRaw(r)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	code := http.StatusAccepted
	if outcome.CacheHit {
		code = http.StatusOK
	}
	s.writeJSON(w, code, outcome)
}

func (s *apiServer) acceptMultipart(r *http.Request) (*pipelineOutcome, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "api", "process", "multipart upload requires a file field", err)
	}
	defer file.Close()

	out, err := s.daemon.pipeline.Submit(r.Context(), file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	return newPipelineOutcome(out), nil
}

func (s *apiServer) acceptRaw(r *http.Request) (*pipelineOutcome, error) {
	name := strings.TrimSpace(r.Header.Get("X-Filename"))
	if name == "" {
		name = strings.TrimSpace(r.URL.Query().Get("filename"))
	}
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "process", "filename required via X-Filename header or filename query parameter", nil)
	}
	defer r.Body.Close()

	out, err := s.daemon.pipeline.Submit(r.Context(), r.Body, name, r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	return newPipelineOutcome(out), nil
}

func (s *apiServer) handleJobList(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := queue.ParseStatus(strings.TrimSpace(part))
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}

	jobs, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *apiServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.daemon.pipeline.Job(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *apiServer) handleJobClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.store.ClearTerminal(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (s *apiServer) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.daemon.pipeline.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newJobView(job))
}

// handleDownload streams an artifact blob. The identifier is random and
// opaque; unknown and expired artifacts are indistinguishable to callers.
func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")

	blob, artifact, err := s.daemon.artifacts.Open(r.Context(), artifactID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer blob.Close()

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(artifact)))
	http.ServeContent(w, r, "", artifact.CreatedAt, blob)
}

func downloadName(artifact *queue.Artifact) string {
	ext := ""
	for candidate, ct := range map[string]string{
		".wav": "audio/wav", ".mp3": "audio/mpeg", ".flac": "audio/flac",
		".m4a": "audio/mp4", ".aac": "audio/aac", ".ogg": "audio/ogg",
	} {
		if ct == artifact.ContentType {
			ext = candidate
			break
		}
	}
	return artifact.ID + ext
}

type pipelineOutcome struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Fingerprint  string `json:"fingerprint"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	DownloadURL  string `json:"download_url,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	CacheHit     bool   `json:"cache_hit,omitempty"`
}

type jobView struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	SourceName       string `json:"source_name,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	ByteSize         int64  `json:"byte_size,omitempty"`
	Fingerprint      string `json:"fingerprint"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"last_error,omitempty"`
	ErrorKind        string `json:"error_kind,omitempty"`
	OutputArtifactID string `json:"output_artifact_id,omitempty"`
	DownloadURL      string `json:"download_url,omitempty"`
	SubmittedAt      string `json:"submitted_at"`
	StartedAt        string `json:"started_at,omitempty"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

func newJobView(job *queue.Job) jobView {
	view := jobView{
		ID:               job.ID,
		Status:           string(job.Status),
		SourceName:       job.SourceName,
		ContentType:      job.ContentType,
		ByteSize:         job.ByteSize,
		Fingerprint:      job.Fingerprint,
		Attempts:         job.Attempts,
		LastError:        job.LastError,
		ErrorKind:        job.ErrorKind,
		OutputArtifactID: job.OutputArtifactID,
		SubmittedAt:      job.SubmittedAt.UTC().Format(time.RFC3339),
	}
	if job.Status == queue.StatusCompleted && job.OutputArtifactID != "" {
		view.DownloadURL = downloadPath(job.OutputArtifactID)
	}
	if job.StartedAt != nil {
		view.StartedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func newPipelineOutcome(out *pipeline.Outcome) *pipelineOutcome {
	view := &pipelineOutcome{
		JobID:        out.JobID,
		Status:       string(out.Status),
		Fingerprint:  out.Fingerprint,
		ArtifactID:   out.ArtifactID,
		Deduplicated: out.Deduplicated,
		CacheHit:     out.CacheHit,
	}
	if out.ArtifactID != "" {
		view.DownloadURL = downloadPath(out.ArtifactID)
	}
	return view
}

func downloadPath(artifactID string) string {
	return "/download/" + artifactID
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch services.Classify(err) {
	case services.KindValidation:
		status = http.StatusBadRequest
	case services.KindCapacity:
		status = http.StatusServiceUnavailable
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindTimeout:
		status = http.StatusGatewayTimeout
	case services.KindStorage, services.KindTransient, services.KindFatal, services.KindConfiguration, services.KindUnknown:
		status = http.StatusInternalServerError
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	s.writeError(w, status, err.Error())
}
