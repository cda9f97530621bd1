package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// CancelReason is the error message set when a user explicitly cancels a job.
const CancelReason = "Cancelled by user"

// ShutdownReason is the error message set when a queued job is failed due to
// daemon shutdown.
const ShutdownReason = "Daemon stopped before the job ran"

// ExpiredReason is the error message set by the TTL sweep.
const ExpiredReason = "Job expired before completion"

var allStatuses = []Status{
	StatusPending,
	StatusQueued,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusExpired,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusExpired:   {},
}

// allowedTransitions is the closed state graph. Anything not listed here is
// rejected by the store, which keeps terminal states immutable.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusQueued, StatusFailed, StatusExpired},
	StatusQueued:  {StatusRunning, StatusFailed, StatusExpired},
	StatusRunning: {StatusCompleted, StatusFailed, StatusExpired},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further writes.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// CanTransition reports whether the state graph permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the authoritative record for one submitted enhancement.
type Job struct {
	ID               string
	Fingerprint      string
	SourceName       string
	ContentType      string
	ByteSize         int64
	Status           Status
	Attempts         int
	LastError        string
	ErrorKind        string
	InputArtifactID  string
	OutputArtifactID string
	SubmittedAt      time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// IsActive reports whether the job still owns its fingerprint for
// singleflight purposes.
func (j *Job) IsActive() bool {
	return j != nil && !j.Status.IsTerminal()
}

// ArtifactKind distinguishes staged inputs from enhancement outputs.
type ArtifactKind string

const (
	ArtifactInput  ArtifactKind = "input"
	ArtifactOutput ArtifactKind = "output"
)

// Artifact is the metadata row for one stored blob. The bytes live on disk
// under the artifact store root, addressed only by ID.
type Artifact struct {
	ID          string
	Kind        ArtifactKind
	ByteSize    int64
	ContentType string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
}

// DatabaseHealth captures diagnostic information about the registry database.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	TableExists      bool   `json:"table_exists"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalJobs        int    `json:"total_jobs"`
	TotalArtifacts   int    `json:"total_artifacts"`
	Error            string `json:"error,omitempty"`
}
