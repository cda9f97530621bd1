package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clarion/internal/config"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "clarion", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Paths.APIBind != "127.0.0.1:8632" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Intake.MaxUploadMB != 100 {
		t.Fatalf("unexpected upload ceiling: %d", cfg.Intake.MaxUploadMB)
	}
	if cfg.MaxUploadBytes() != 100*1024*1024 {
		t.Fatalf("unexpected upload ceiling in bytes: %d", cfg.MaxUploadBytes())
	}
	if len(cfg.Intake.AllowedFormats) != 6 {
		t.Fatalf("unexpected allowlist: %v", cfg.Intake.AllowedFormats)
	}
	if cfg.Pipeline.Workers != 4 || cfg.Pipeline.QueueDepth != 32 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("unexpected retry attempts: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.ArtifactsDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadParsesFileAndNormalizesFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
artifacts_dir = "` + filepath.Join(dir, "artifacts") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
api_bind = "127.0.0.1:0"

[intake]
max_upload_mb = 5
allowed_formats = ["WAV", ".flac", "flac", ""]

[pipeline]
workers = 2
queue_depth = 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: exists=%v path=%q", exists, resolved)
	}
	want := []string{".wav", ".flac"}
	if len(cfg.Intake.AllowedFormats) != len(want) {
		t.Fatalf("unexpected allowlist: %v", cfg.Intake.AllowedFormats)
	}
	for i, format := range want {
		if cfg.Intake.AllowedFormats[i] != format {
			t.Fatalf("allowlist[%d]: got %q want %q", i, cfg.Intake.AllowedFormats[i], format)
		}
	}
	if cfg.Intake.MaxUploadMB != 5 {
		t.Fatalf("unexpected upload ceiling: %d", cfg.Intake.MaxUploadMB)
	}
	if cfg.Pipeline.Workers != 2 || cfg.Pipeline.QueueDepth != 4 {
		t.Fatalf("unexpected pipeline values: %+v", cfg.Pipeline)
	}
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CLARION_WORKERS", "9")
	t.Setenv("CLARION_MAX_UPLOAD_MB", "7")
	t.Setenv("CLARION_LOG_LEVEL", "debug")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Pipeline.Workers != 9 {
		t.Fatalf("expected env worker override, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Intake.MaxUploadMB != 7 {
		t.Fatalf("expected env upload override, got %d", cfg.Intake.MaxUploadMB)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env log level override, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*config.Config)
		fragment string
	}{
		{
			"same staging and artifacts dir",
			func(c *config.Config) { c.Paths.ArtifactsDir = c.Paths.StagingDir },
			"must differ",
		},
		{
			"backoff inversion",
			func(c *config.Config) { c.Retry.BaseDelayMS = 5000; c.Retry.MaxDelayMS = 1000 },
			"base_delay_ms",
		},
		{
			"enhancer args missing output",
			func(c *config.Config) { c.Enhancer.Args = []string{"-i", "{input}"} },
			"{output}",
		},
		{
			"unknown log format",
			func(c *config.Config) { c.Logging.Format = "xml" },
			"logging.format",
		},
		{
			"unknown log level",
			func(c *config.Config) { c.Logging.Level = "verbose" },
			"logging.level",
		},
	}
	for _, tc := range cases {
		cfg := config.Default()
		cfg.Paths.StagingDir = "/tmp/clarion-staging"
		cfg.Paths.ArtifactsDir = "/tmp/clarion-artifacts"
		cfg.Logging.Format = "console"
		cfg.Logging.Level = "info"
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.fragment) {
			t.Fatalf("%s: expected %q in %q", tc.name, tc.fragment, err.Error())
		}
	}
}

func TestSampleConfigMentionsEverySection(t *testing.T) {
	sample := config.SampleConfig()
	for _, section := range []string{"[paths]", "[intake]", "[pipeline]", "[retry]", "[artifacts]", "[cache]", "[enhancer]", "[logging]"} {
		if !strings.Contains(sample, section) {
			t.Fatalf("sample config missing section %s", section)
		}
	}
}
