// Package services defines shared utilities consumed by the pipeline
// components and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into a consistent classification (validation, capacity, transient,
//     fatal, not-found, storage, timeout).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
