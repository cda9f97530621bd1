// Package artifactstore keeps opaque audio blobs on disk keyed by random
// artifact identifiers, with metadata rows in the registry database. Blob
// writes are atomic: content lands in a temp file and is renamed into place,
// so a crash never leaves a partially written artifact visible.
package artifactstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"clarion/internal/config"
	"clarion/internal/logging"
	"clarion/internal/queue"
	"clarion/internal/services"
)

// Store manages artifact blobs under the configured artifacts directory.
type Store struct {
	cfg    *config.Config
	db     *queue.Store
	logger *slog.Logger
}

// New builds an artifact store over the registry database.
func New(cfg *config.Config, db *queue.Store, logger *slog.Logger) *Store {
	return &Store{
		cfg:    cfg,
		db:     db,
		logger: logging.NewComponentLogger(logger, "artifactstore"),
	}
}

// Put streams content into a new artifact and records its metadata. The
// returned artifact carries the generated identifier callers hand out as the
// download handle.
func (s *Store) Put(ctx context.Context, kind queue.ArtifactKind, src io.Reader, contentType string) (*queue.Artifact, error) {
	const op = "put"

	id := uuid.NewString()
	blobPath := s.BlobPath(id)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "artifactstore", op, "create shard directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(blobPath), ".blob-*")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "artifactstore", op, "create temp blob", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, services.Wrap(services.ErrStorage, "artifactstore", op, "write blob", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, services.Wrap(services.ErrStorage, "artifactstore", op, "finalize blob", err)
	}
	if err := os.Rename(tmpPath, blobPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, services.Wrap(services.ErrStorage, "artifactstore", op, "place blob", err)
	}

	artifact := &queue.Artifact{
		ID:          id,
		Kind:        kind,
		ByteSize:    written,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(s.cfg.ArtifactTTL()),
	}
	if err := s.db.InsertArtifact(ctx, artifact); err != nil {
		_ = os.Remove(blobPath)
		return nil, services.Wrap(services.ErrStorage, "artifactstore", op, "record artifact metadata", err)
	}

	s.logger.Info("artifact stored",
		logging.String(logging.FieldArtifactID, id),
		logging.String("kind", string(kind)),
		logging.Int64("byte_size", written),
	)
	return artifact, nil
}

// PutFile stores an existing file as an artifact. When removeSrc is set the
// source file is deleted after a successful store.
func (s *Store) PutFile(ctx context.Context, kind queue.ArtifactKind, path, contentType string, removeSrc bool) (*queue.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "artifactstore", "put_file", "open source file", err)
	}
	artifact, putErr := s.Put(ctx, kind, f, contentType)
	closeErr := f.Close()
	if putErr != nil {
		return nil, putErr
	}
	if closeErr != nil {
		return nil, services.Wrap(services.ErrStorage, "artifactstore", "put_file", "close source file", closeErr)
	}
	if removeSrc {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove source after store failed",
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
	return artifact, nil
}

// Open returns the blob and metadata for an unexpired artifact. Expired and
// unknown identifiers both surface as not found so callers cannot tell
// which IDs ever existed.
func (s *Store) Open(ctx context.Context, id string) (io.ReadSeekCloser, *queue.Artifact, error) {
	const op = "open"

	artifact, err := s.db.GetArtifact(ctx, id)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrStorage, "artifactstore", op, "load artifact metadata", err)
	}
	if artifact == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "artifactstore", op, "artifact not found", nil)
	}
	if time.Now().After(artifact.ExpiresAt) {
		return nil, nil, services.Wrap(services.ErrNotFound, "artifactstore", op, "artifact expired", nil)
	}

	f, err := os.Open(s.BlobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, services.Wrap(services.ErrNotFound, "artifactstore", op, "artifact blob missing", nil)
		}
		return nil, nil, services.Wrap(services.ErrStorage, "artifactstore", op, "open blob", err)
	}
	return f, artifact, nil
}

// Delete removes an artifact blob and its metadata.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.BlobPath(id)); err != nil && !os.IsNotExist(err) {
		return services.Wrap(services.ErrStorage, "artifactstore", "delete", "remove blob", err)
	}
	if _, err := s.db.DeleteArtifact(ctx, id); err != nil {
		return services.Wrap(services.ErrStorage, "artifactstore", "delete", "remove artifact metadata", err)
	}
	return nil
}

// Sweep removes artifacts whose retention deadline passed and which nothing
// active references. Returns the number of artifacts reclaimed.
func (s *Store) Sweep(ctx context.Context, asOf time.Time) (int, error) {
	expired, err := s.db.ExpiredArtifacts(ctx, asOf, s.cfg.CompletedGrace())
	if err != nil {
		return 0, services.Wrap(services.ErrStorage, "artifactstore", "sweep", "list expired artifacts", err)
	}

	removed := 0
	for _, artifact := range expired {
		if err := s.Delete(ctx, artifact.ID); err != nil {
			s.logger.Warn("sweep failed for artifact",
				logging.String(logging.FieldArtifactID, artifact.ID),
				logging.Error(err),
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("artifact sweep complete", logging.Int("removed", removed))
	}
	return removed, nil
}

// BlobPath maps an artifact identifier to its on-disk location. Blobs shard
// into two-character prefix directories to keep directory sizes bounded.
func (s *Store) BlobPath(id string) string {
	shard := "00"
	if len(id) >= 2 {
		shard = id[:2]
	}
	return filepath.Join(s.cfg.Paths.ArtifactsDir, shard, id)
}

// Usage summarizes stored artifacts and available disk space.
type Usage struct {
	ByKind    map[queue.ArtifactKind]queue.ArtifactUsage `json:"by_kind"`
	FreeBytes uint64                                     `json:"free_bytes"`
}

// Stats reports stored counts, bytes, and the free space remaining on the
// artifacts filesystem.
func (s *Store) Stats(ctx context.Context) (Usage, error) {
	byKind, err := s.db.ArtifactStats(ctx)
	if err != nil {
		return Usage{}, services.Wrap(services.ErrStorage, "artifactstore", "stats", "artifact stats", err)
	}

	usage := Usage{ByKind: byKind}
	var stat unix.Statfs_t
	if err := unix.Statfs(s.cfg.Paths.ArtifactsDir, &stat); err == nil {
		usage.FreeBytes = stat.Bavail * uint64(stat.Bsize)
	}
	return usage, nil
}
