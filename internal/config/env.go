package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// applyEnvOverrides layers CLARION_* environment variables over the file
// values so containerized deployments can run without a config file.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}
	return nil
}
