package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for pipeline error classification. Every error surfaced by
// a component is wrapped with exactly one of these so callers can map it to a
// job outcome or an HTTP status without inspecting message text.
var (
	ErrValidation    = errors.New("validation error")
	ErrCapacity      = errors.New("capacity exceeded")
	ErrTransient     = errors.New("transient failure")
	ErrFatal         = errors.New("fatal failure")
	ErrNotFound      = errors.New("not found")
	ErrStorage       = errors.New("storage error")
	ErrTimeout       = errors.New("timeout")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether an error is expected to succeed on a later
// attempt. Timeouts count as retryable; the retry controller still charges
// them against the overall deadline budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrStorage)
}

// Kind is the closed set of classifications recorded on terminal jobs and
// used for HTTP status mapping.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindCapacity      Kind = "capacity"
	KindTransient     Kind = "transient"
	KindFatal         Kind = "fatal"
	KindNotFound      Kind = "not_found"
	KindStorage       Kind = "storage"
	KindTimeout       Kind = "timeout"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// Classify maps an error to its Kind. Unmarked errors classify as unknown,
// which downstream code treats like a fatal failure.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrCapacity):
		return KindCapacity
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrFatal):
		return KindFatal
	default:
		return KindUnknown
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
