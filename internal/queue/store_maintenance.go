package queue

import (
	"context"
	"fmt"
	"time"
)

// ExpireStale moves active jobs older than the retention window into the
// expired state. Jobs currently running are left alone; a worker owns their
// fate until the job timeout fires.
func (s *Store) ExpireStale(ctx context.Context, maxAge time.Duration) ([]*Job, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	jobs, err := s.List(ctx, StatusPending, StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("list stale candidates: %w", err)
	}

	var expired []*Job
	for _, job := range jobs {
		if job.SubmittedAt.After(cutoff) {
			continue
		}
		updated, err := s.MarkExpired(ctx, job.ID)
		if err != nil {
			return expired, fmt.Errorf("expire job %s: %w", job.ID, err)
		}
		if updated != nil {
			expired = append(expired, updated)
		}
	}
	return expired, nil
}
