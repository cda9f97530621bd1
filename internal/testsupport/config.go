package testsupport

import (
	"path/filepath"
	"testing"

	"clarion/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.ArtifactsDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Pipeline.Workers = 2
	cfgVal.Pipeline.QueueDepth = 8
	cfgVal.Pipeline.SweepSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers sets the worker pool size on the test config.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = workers
	}
}

// WithQueueDepth sets the backlog capacity on the test config.
func WithQueueDepth(depth int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.QueueDepth = depth
	}
}

// WithFormats overrides the intake format allowlist on the test config.
func WithFormats(formats ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Intake.AllowedFormats = formats
	}
}

// WithMaxUploadMB sets the intake size ceiling on the test config.
func WithMaxUploadMB(mb int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Intake.MaxUploadMB = mb
	}
}

// BaseDir exposes the temp root backing a test config for callers that need
// to place fixtures next to the managed directories.
func BaseDir(t testing.TB, cfg *config.Config) string {
	t.Helper()
	return filepath.Dir(cfg.Paths.StagingDir)
}
