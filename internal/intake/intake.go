// Package intake validates uploaded audio and spools accepted payloads into
// the staging directory. Validation is ordered so cheap checks run before
// any bytes are read: the format allowlist first, then the size ceiling
// enforced incrementally while streaming, so an oversized upload is rejected
// without buffering it in memory.
package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"clarion/internal/config"
	"clarion/internal/fingerprint"
	"clarion/internal/logging"
	"clarion/internal/services"
)

// Result describes an accepted upload after spooling.
type Result struct {
	StagedPath  string
	Fingerprint string
	ByteSize    int64
	SourceName  string
	ContentType string
	Format      string
}

// Validator screens uploads against the configured allowlist and size
// ceiling.
type Validator struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewValidator builds a Validator bound to the given configuration.
func NewValidator(cfg *config.Config, logger *slog.Logger) *Validator {
	return &Validator{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "intake"),
	}
}

// Accept validates and stages one upload. The reader is consumed at most up
// to the size ceiling plus one byte; anything larger aborts the spool and
// removes the partial file.
func (v *Validator) Accept(ctx context.Context, r io.Reader, sourceName, contentType string) (*Result, error) {
	const component = "intake"

	name := SanitizeName(sourceName)
	format := strings.ToLower(filepath.Ext(name))
	if !v.FormatAllowed(format) {
		return nil, services.Wrap(
			services.ErrValidation,
			component,
			"accept",
			fmt.Sprintf("unsupported format %q, allowed: %s", format, strings.Join(v.AllowedFormats(), ", ")),
			nil,
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, services.Wrap(services.ErrTimeout, component, "accept", "request aborted", err)
	}

	if err := os.MkdirAll(v.cfg.Paths.StagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "accept", "create staging directory", err)
	}

	tmp, err := os.CreateTemp(v.cfg.Paths.StagingDir, ".upload-*")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, component, "accept", "create spool file", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	ceiling := v.cfg.MaxUploadBytes()
	digest := fingerprint.New()
	written, err := io.Copy(io.MultiWriter(tmp, digest), io.LimitReader(r, ceiling+1))
	if err != nil {
		cleanup()
		return nil, services.Wrap(services.ErrStorage, component, "accept", "spool upload", err)
	}
	if written > ceiling {
		cleanup()
		return nil, services.Wrap(
			services.ErrValidation,
			component,
			"accept",
			fmt.Sprintf("upload exceeds size ceiling of %s", humanize.IBytes(uint64(ceiling))),
			nil,
		)
	}
	if written == 0 {
		cleanup()
		return nil, services.Wrap(services.ErrValidation, component, "accept", "upload is empty", nil)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, services.Wrap(services.ErrStorage, component, "accept", "finalize spool file", err)
	}

	fp := digest.Sum()
	stagedPath := filepath.Join(v.cfg.Paths.StagingDir, fp+format)
	if err := os.Rename(tmpPath, stagedPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, services.Wrap(services.ErrStorage, component, "accept", "place staged file", err)
	}

	// Multipart uploads often declare application/octet-stream; the extension
	// map is authoritative unless the caller sent a concrete audio type.
	if !strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		contentType = ContentTypeForFormat(format)
	}

	v.logger.Info("upload staged",
		logging.String(logging.FieldFingerprint, fp),
		logging.String("source_name", name),
		logging.Int64("byte_size", written),
	)

	return &Result{
		StagedPath:  stagedPath,
		Fingerprint: fp,
		ByteSize:    written,
		SourceName:  name,
		ContentType: contentType,
		Format:      format,
	}, nil
}

// FormatAllowed reports whether the dotted extension is in the allowlist.
func (v *Validator) FormatAllowed(format string) bool {
	format = strings.ToLower(format)
	for _, allowed := range v.cfg.Intake.AllowedFormats {
		if format == allowed {
			return true
		}
	}
	return false
}

// AllowedFormats returns the allowlist in stable order for error messages
// and the formats endpoint.
func (v *Validator) AllowedFormats() []string {
	formats := make([]string, len(v.cfg.Intake.AllowedFormats))
	copy(formats, v.cfg.Intake.AllowedFormats)
	sort.Strings(formats)
	return formats
}

// SanitizeName strips path components and control characters from a client
// supplied filename so it can never influence filesystem layout.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case r == '/' || r == 0:
			continue
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "upload"
	}
	return cleaned
}

var contentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
}

// ContentTypeForFormat maps a dotted extension to its MIME type, defaulting
// to a generic byte stream.
func ContentTypeForFormat(format string) string {
	if ct, ok := contentTypes[strings.ToLower(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}
