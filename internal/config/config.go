package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir   string `toml:"staging_dir" env:"CLARION_STAGING_DIR"`
	ArtifactsDir string `toml:"artifacts_dir" env:"CLARION_ARTIFACTS_DIR"`
	LogDir       string `toml:"log_dir" env:"CLARION_LOG_DIR"`
	APIBind      string `toml:"api_bind" env:"CLARION_BIND"`
}

// Intake contains upload validation settings.
type Intake struct {
	MaxUploadMB    int      `toml:"max_upload_mb" env:"CLARION_MAX_UPLOAD_MB"`
	AllowedFormats []string `toml:"allowed_formats" env:"CLARION_ALLOWED_FORMATS"`
}

// Pipeline contains worker pool and queue settings.
type Pipeline struct {
	Workers           int `toml:"workers" env:"CLARION_WORKERS"`
	QueueDepth        int `toml:"queue_depth" env:"CLARION_QUEUE_DEPTH"`
	JobTimeoutSeconds int `toml:"job_timeout_seconds" env:"CLARION_JOB_TIMEOUT_SECONDS"`
	JobTTLHours       int `toml:"job_ttl_hours" env:"CLARION_JOB_TTL_HOURS"`
	SweepSeconds      int `toml:"sweep_seconds" env:"CLARION_SWEEP_SECONDS"`
}

// Retry contains the bounded-retry policy applied to enhancer calls.
type Retry struct {
	MaxAttempts int `toml:"max_attempts" env:"CLARION_RETRY_MAX_ATTEMPTS"`
	BaseDelayMS int `toml:"base_delay_ms" env:"CLARION_RETRY_BASE_DELAY_MS"`
	MaxDelayMS  int `toml:"max_delay_ms" env:"CLARION_RETRY_MAX_DELAY_MS"`
}

// Artifacts contains blob store lifecycle settings.
type Artifacts struct {
	TTLHours             int  `toml:"ttl_hours" env:"CLARION_ARTIFACT_TTL_HOURS"`
	KeepInputs           bool `toml:"keep_inputs" env:"CLARION_KEEP_INPUTS"`
	GraceCompletedMinute int  `toml:"grace_completed_minutes" env:"CLARION_GRACE_COMPLETED_MINUTES"`
}

// Cache contains result cache bounds.
type Cache struct {
	Capacity int `toml:"capacity" env:"CLARION_CACHE_CAPACITY"`
	TTLHours int `toml:"ttl_hours" env:"CLARION_CACHE_TTL_HOURS"`
}

// Enhancer contains the external enhancement command configuration. Args may
// reference {input} and {output} placeholders.
type Enhancer struct {
	Command        string   `toml:"command" env:"CLARION_ENHANCER_COMMAND"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds" env:"CLARION_ENHANCER_TIMEOUT_SECONDS"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" env:"CLARION_LOG_FORMAT"`
	Level  string `toml:"level" env:"CLARION_LOG_LEVEL"`
}

// Config encapsulates all configuration values for Clarion.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Intake: upload size ceiling and format allowlist
//   - Pipeline: worker pool size, queue depth, job deadlines and TTL
//   - Retry: enhancer retry attempts and backoff bounds
//   - Artifacts: blob TTL and input retention
//   - Cache: result cache capacity and TTL
//   - Enhancer: external enhancement command
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Intake    Intake    `toml:"intake"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Retry     Retry     `toml:"retry"`
	Artifacts Artifacts `toml:"artifacts"`
	Cache     Cache     `toml:"cache"`
	Enhancer  Enhancer  `toml:"enhancer"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clarion/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file. The returned config has all path
// fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clarion.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.ArtifactsDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// MaxUploadBytes returns the configured upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Intake.MaxUploadMB) * 1024 * 1024
}

// JobTimeout returns the per-enhancement deadline.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Pipeline.JobTimeoutSeconds) * time.Second
}

// JobTTL returns how long a non-terminal job may sit without activity before
// the sweep expires it.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.Pipeline.JobTTLHours) * time.Hour
}

// SweepInterval returns the cadence of the background expiry sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Pipeline.SweepSeconds) * time.Second
}

// ArtifactTTL returns the artifact expiry horizon.
func (c *Config) ArtifactTTL() time.Duration {
	return time.Duration(c.Artifacts.TTLHours) * time.Hour
}

// CompletedGrace returns how long outputs of freshly completed jobs are
// spared from the expiry sweep.
func (c *Config) CompletedGrace() time.Duration {
	return time.Duration(c.Artifacts.GraceCompletedMinute) * time.Minute
}

// CacheTTL returns the result cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// EnhancerTimeout returns the deadline applied to a single enhancer invocation.
func (c *Config) EnhancerTimeout() time.Duration {
	return time.Duration(c.Enhancer.TimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the first backoff delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the annotated sample configuration to the target path.
func CreateSample(target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(target, []byte(sampleConfig), 0o644)
}

// ExpandPath resolves ~ and relative segments to an absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
