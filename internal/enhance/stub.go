package enhance

import (
	"context"
	"os"
	"sync"
)

// Stub is a scriptable Enhancer for tests. Each invocation pops the next
// error from the script; a nil error copies the input to the output path.
// Once the script is exhausted every call succeeds.
type Stub struct {
	mu     sync.Mutex
	script []error
	calls  int
}

// NewStub builds a stub that returns the given errors in order.
func NewStub(script ...error) *Stub {
	return &Stub{script: script}
}

// Enhance consumes the next scripted outcome.
func (s *Stub) Enhance(ctx context.Context, req Request) error {
	s.mu.Lock()
	var err error
	if s.calls < len(s.script) {
		err = s.script[s.calls]
	}
	s.calls++
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	data, readErr := os.ReadFile(req.InputPath)
	if readErr != nil {
		return readErr
	}
	return os.WriteFile(req.OutputPath, data, 0o644)
}

// Calls reports how many invocations the stub has seen.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ Enhancer = (*Stub)(nil)
