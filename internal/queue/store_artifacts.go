package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertArtifact records metadata for a stored blob.
func (s *Store) InsertArtifact(ctx context.Context, artifact *Artifact) error {
	if artifact == nil || artifact.ID == "" {
		return errors.New("artifact requires an id")
	}
	now := time.Now().UTC()
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (id, kind, byte_size, content_type, created_at, expires_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.ID,
		artifact.Kind,
		artifact.ByteSize,
		artifact.ContentType,
		artifact.CreatedAt.Format(time.RFC3339Nano),
		artifact.ExpiresAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetArtifact fetches artifact metadata by identifier. Returns (nil, nil)
// when absent.
func (s *Store) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, kind, byte_size, content_type, created_at, expires_at
         FROM artifacts WHERE id = ?`,
		id,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// DeleteArtifact removes artifact metadata by identifier.
func (s *Store) DeleteArtifact(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// TouchArtifactExpiry extends an artifact's retention deadline.
func (s *Store) TouchArtifactExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE artifacts SET expires_at = ? WHERE id = ?`,
		expiresAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("touch artifact expiry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("artifact %s not found", id)
	}
	return nil
}

// ExpiredArtifacts lists artifacts whose retention deadline passed and which
// no active job still references. Outputs of recently completed jobs are
// spared for a grace window so a caller who just saw "completed" can still
// download.
func (s *Store) ExpiredArtifacts(ctx context.Context, asOf time.Time, completedGrace time.Duration) ([]*Artifact, error) {
	cutoff := asOf.UTC().Format(time.RFC3339Nano)
	graceFloor := asOf.Add(-completedGrace).UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT a.id, a.kind, a.byte_size, a.content_type, a.created_at, a.expires_at
         FROM artifacts a
         WHERE a.expires_at <= ?
           AND NOT EXISTS (
               SELECT 1 FROM jobs j
               WHERE (j.input_artifact_id = a.id OR j.output_artifact_id = a.id)
                 AND j.status IN (?, ?, ?)
           )
           AND NOT EXISTS (
               SELECT 1 FROM jobs j
               WHERE j.output_artifact_id = a.id
                 AND j.status = ?
                 AND j.completed_at > ?
           )
         ORDER BY a.expires_at`,
		cutoff,
		StatusPending, StatusQueued, StatusRunning,
		StatusCompleted, graceFloor,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// ArtifactStats aggregates stored artifact counts and bytes by kind.
func (s *Store) ArtifactStats(ctx context.Context) (map[ArtifactKind]ArtifactUsage, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT kind, COUNT(1), COALESCE(SUM(byte_size), 0) FROM artifacts GROUP BY kind`,
	)
	if err != nil {
		return nil, fmt.Errorf("artifact stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ArtifactKind]ArtifactUsage)
	for rows.Next() {
		var kind ArtifactKind
		var usage ArtifactUsage
		if err := rows.Scan(&kind, &usage.Count, &usage.Bytes); err != nil {
			return nil, err
		}
		stats[kind] = usage
	}
	return stats, rows.Err()
}

// ArtifactUsage summarizes stored blobs of one kind.
type ArtifactUsage struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*Artifact, error) {
	var (
		id          string
		kind        string
		byteSize    sql.NullInt64
		contentType sql.NullString
		createdRaw  sql.NullString
		expiresRaw  sql.NullString
	)
	if err := scanner.Scan(&id, &kind, &byteSize, &contentType, &createdRaw, &expiresRaw); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		ID:          id,
		Kind:        ArtifactKind(kind),
		ByteSize:    byteSize.Int64,
		ContentType: contentType.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		artifact.CreatedAt = created
	}
	if expires, err := parseTimeString(expiresRaw.String); err == nil {
		artifact.ExpiresAt = expires
	}
	return artifact, nil
}
