// Package config loads, normalizes, and validates Clarion configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and layers CLARION_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need: upload
// limits, worker pool sizing, retry policy, artifact lifecycle, and the
// external enhancer command.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
