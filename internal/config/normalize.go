package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIntake()
	c.normalizePipeline()
	c.normalizeRetry()
	c.normalizeArtifacts()
	c.normalizeCache()
	c.normalizeEnhancer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ArtifactsDir, err = expandPath(c.Paths.ArtifactsDir); err != nil {
		return fmt.Errorf("paths.artifacts_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeIntake() {
	if c.Intake.MaxUploadMB <= 0 {
		c.Intake.MaxUploadMB = defaultMaxUploadMB
	}
	if len(c.Intake.AllowedFormats) == 0 {
		c.Intake.AllowedFormats = defaultAllowedFormats()
		return
	}
	formats := make([]string, 0, len(c.Intake.AllowedFormats))
	seen := make(map[string]struct{}, len(c.Intake.AllowedFormats))
	for _, format := range c.Intake.AllowedFormats {
		normalized := strings.ToLower(strings.TrimSpace(format))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		formats = append(formats, normalized)
	}
	if len(formats) == 0 {
		formats = defaultAllowedFormats()
	}
	c.Intake.AllowedFormats = formats
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
	if c.Pipeline.QueueDepth <= 0 {
		c.Pipeline.QueueDepth = defaultQueueDepth
	}
	if c.Pipeline.JobTimeoutSeconds <= 0 {
		c.Pipeline.JobTimeoutSeconds = defaultJobTimeoutSeconds
	}
	if c.Pipeline.JobTTLHours <= 0 {
		c.Pipeline.JobTTLHours = defaultJobTTLHours
	}
	if c.Pipeline.SweepSeconds <= 0 {
		c.Pipeline.SweepSeconds = defaultSweepSeconds
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = defaultRetryBaseDelayMS
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = defaultRetryMaxDelayMS
	}
}

func (c *Config) normalizeArtifacts() {
	if c.Artifacts.TTLHours <= 0 {
		c.Artifacts.TTLHours = defaultArtifactTTLHours
	}
	if c.Artifacts.GraceCompletedMinute < 0 {
		c.Artifacts.GraceCompletedMinute = defaultGraceCompletedMinute
	}
}

func (c *Config) normalizeCache() {
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = defaultCacheCapacity
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = defaultCacheTTLHours
	}
}

func (c *Config) normalizeEnhancer() {
	c.Enhancer.Command = strings.TrimSpace(c.Enhancer.Command)
	if c.Enhancer.Command == "" {
		c.Enhancer.Command = defaultEnhancerCommand
	}
	if len(c.Enhancer.Args) == 0 {
		c.Enhancer.Args = defaultEnhancerArgs()
	}
	if c.Enhancer.TimeoutSeconds <= 0 {
		c.Enhancer.TimeoutSeconds = defaultEnhancerTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
