package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition reports a status move the state graph forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// MarkQueued moves a pending job into the scheduler backlog.
func (s *Store) MarkQueued(ctx context.Context, id string) (*Job, error) {
	return s.transition(ctx, id, StatusQueued, transitionFields{})
}

// MarkRunning records the moment a worker claims the job. StartedAt is set
// once; a retried attempt never rewrites it.
func (s *Store) MarkRunning(ctx context.Context, id string) (*Job, error) {
	return s.transition(ctx, id, StatusRunning, transitionFields{setStartedAt: true})
}

// MarkCompleted finalizes a successful job with its output artifact.
func (s *Store) MarkCompleted(ctx context.Context, id, outputArtifactID string) (*Job, error) {
	if outputArtifactID == "" {
		return nil, errors.New("completed job requires an output artifact")
	}
	return s.transition(ctx, id, StatusCompleted, transitionFields{
		setCompletedAt:   true,
		outputArtifactID: outputArtifactID,
		clearError:       true,
	})
}

// MarkFailed finalizes a failed job with its classified error.
func (s *Store) MarkFailed(ctx context.Context, id, message, kind string) (*Job, error) {
	return s.transition(ctx, id, StatusFailed, transitionFields{
		setCompletedAt: true,
		lastError:      message,
		errorKind:      kind,
	})
}

// MarkExpired transitions a job whose retention window elapsed.
func (s *Store) MarkExpired(ctx context.Context, id string) (*Job, error) {
	return s.transition(ctx, id, StatusExpired, transitionFields{
		setCompletedAt: true,
		lastError:      ExpiredReason,
	})
}

// Cancel fails a job that has not reached a worker. Running jobs settle
// through their worker after the pipeline signals them; terminal jobs cannot
// be cancelled.
func (s *Store) Cancel(ctx context.Context, id string) (*Job, error) {
	return s.apply(ctx, id, StatusFailed, []Status{StatusPending, StatusQueued}, transitionFields{
		setCompletedAt: true,
		lastError:      CancelReason,
	})
}

type transitionFields struct {
	setStartedAt     bool
	setCompletedAt   bool
	outputArtifactID string
	lastError        string
	errorKind        string
	clearError       bool
}

// transition applies a status change guarded by the state graph.
func (s *Store) transition(ctx context.Context, id string, target Status, fields transitionFields) (*Job, error) {
	return s.apply(ctx, id, target, transitionSources(target), fields)
}

// apply performs the status change as one UPDATE whose WHERE clause pins the
// allowed source statuses. A concurrent writer cannot slip between a read and
// a write because there is no separate read; the losing writer sees zero rows
// affected and reports the status it lost to.
func (s *Store) apply(ctx context.Context, id string, target Status, sources []Status, fields transitionFields) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []any{target, now}

	if fields.setStartedAt {
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	}
	if fields.setCompletedAt {
		query += `, completed_at = COALESCE(completed_at, ?)`
		args = append(args, now)
	}
	if fields.outputArtifactID != "" {
		query += `, output_artifact_id = ?`
		args = append(args, fields.outputArtifactID)
	}
	if fields.clearError {
		query += `, last_error = NULL, error_kind = NULL`
	} else {
		if fields.lastError != "" {
			query += `, last_error = ?`
			args = append(args, fields.lastError)
		}
		if fields.errorKind != "" {
			query += `, error_kind = ?`
			args = append(args, fields.errorKind)
		}
	}

	query += ` WHERE id = ? AND status IN (` + makePlaceholders(len(sources)) + `)`
	args = append(args, id)
	for _, source := range sources {
		args = append(args, source)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		job, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if job == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, target)
	}

	return s.GetByID(ctx, id)
}

// transitionSources lists the statuses the state graph allows to move into
// target.
func transitionSources(target Status) []Status {
	var sources []Status
	for _, from := range allStatuses {
		if CanTransition(from, target) {
			sources = append(sources, from)
		}
	}
	return sources
}
