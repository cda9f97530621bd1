package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"clarion/internal/config"
	"clarion/internal/logging"
	"clarion/internal/services"
)

var commandContext = exec.CommandContext

// Placeholders substituted into configured enhancer arguments.
const (
	placeholderInput  = "{input}"
	placeholderOutput = "{output}"
)

// Command runs the configured external enhancement tool. Each invocation
// gets its own deadline; arguments come from configuration with the input
// and output placeholders filled per request.
type Command struct {
	binary  string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand builds a Command from the enhancer configuration.
func NewCommand(cfg *config.Config, logger *slog.Logger) *Command {
	return &Command{
		binary:  cfg.Enhancer.Command,
		args:    append([]string(nil), cfg.Enhancer.Args...),
		timeout: cfg.EnhancerTimeout(),
		logger:  logging.NewComponentLogger(logger, "enhancer"),
	}
}

// Enhance invokes the external tool and classifies its failure modes.
// Deadline overruns surface as timeouts, a missing binary as fatal, and any
// other nonzero exit as transient so the retry controller decides.
func (c *Command) Enhance(ctx context.Context, req Request) error {
	const op = "enhance"

	if req.InputPath == "" {
		return services.Wrap(services.ErrFatal, "enhancer", op, "input path required", nil)
	}
	if req.OutputPath == "" {
		return services.Wrap(services.ErrFatal, "enhancer", op, "output path required", nil)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := make([]string, len(c.args))
	for i, arg := range c.args {
		arg = strings.ReplaceAll(arg, placeholderInput, req.InputPath)
		arg = strings.ReplaceAll(arg, placeholderOutput, req.OutputPath)
		args[i] = arg
	}

	cmd := commandContext(runCtx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	if err == nil {
		c.logger.Info("enhancement finished",
			logging.String("input", req.InputPath),
			logging.Duration("elapsed", elapsed),
		)
		return nil
	}

	detail := strings.TrimSpace(stderr.String())
	if len(detail) > 512 {
		detail = detail[len(detail)-512:]
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "enhancer", op,
			fmt.Sprintf("tool exceeded %s deadline", c.timeout), err)
	case errors.Is(ctx.Err(), context.Canceled):
		return services.Wrap(services.ErrTimeout, "enhancer", op, "invocation cancelled", err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return services.Wrap(services.ErrFatal, "enhancer", op,
			fmt.Sprintf("tool %q not found", c.binary), err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("tool exited with code %d", exitErr.ExitCode())
		if detail != "" {
			msg += ": " + detail
		}
		return services.Wrap(services.ErrTransient, "enhancer", op, msg, err)
	}

	return services.Wrap(services.ErrTransient, "enhancer", op, "tool invocation failed", err)
}

var _ Enhancer = (*Command)(nil)
