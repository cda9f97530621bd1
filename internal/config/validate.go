package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateEnhancer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ArtifactsDir) == "" {
		return errors.New("paths.artifacts_dir must be set")
	}
	if c.Paths.StagingDir == c.Paths.ArtifactsDir {
		return errors.New("paths.staging_dir and paths.artifacts_dir must differ")
	}
	return nil
}

func (c *Config) validateIntake() error {
	for _, format := range c.Intake.AllowedFormats {
		if !strings.HasPrefix(format, ".") || len(format) < 2 {
			return fmt.Errorf("intake.allowed_formats entry %q must be a dotted extension", format)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers > 256 {
		return errors.New("pipeline.workers must be 256 or fewer")
	}
	if c.Pipeline.QueueDepth > 65536 {
		return errors.New("pipeline.queue_depth must be 65536 or fewer")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts > 20 {
		return errors.New("retry.max_attempts must be 20 or fewer")
	}
	if c.Retry.BaseDelayMS > c.Retry.MaxDelayMS {
		return errors.New("retry.base_delay_ms must not exceed retry.max_delay_ms")
	}
	return nil
}

func (c *Config) validateEnhancer() error {
	var sawInput, sawOutput bool
	for _, arg := range c.Enhancer.Args {
		if strings.Contains(arg, "{input}") {
			sawInput = true
		}
		if strings.Contains(arg, "{output}") {
			sawOutput = true
		}
	}
	if !sawInput || !sawOutput {
		return errors.New("enhancer.args must reference both {input} and {output}")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
