package enhance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"clarion/internal/logging"
	"clarion/internal/services"
	"clarion/internal/testsupport"
)

func stubCommand(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string(nil), args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "ENHANCE_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestCommandSubstitutesPlaceholders(t *testing.T) {
	var captured []string
	stubCommand(t, "success", &captured)

	cfg := testsupport.NewConfig(t)
	cfg.Enhancer.Args = []string{"-y", "-i", "{input}", "-af", "afftdn", "{output}"}
	cmd := NewCommand(cfg, logging.NewNop())

	err := cmd.Enhance(context.Background(), Request{
		InputPath:  "/tmp/in.wav",
		OutputPath: "/tmp/out.wav",
	})
	if err != nil {
		t.Fatalf("Enhance failed: %v", err)
	}

	wantInput, wantOutput := false, false
	for _, arg := range captured {
		if arg == "/tmp/in.wav" {
			wantInput = true
		}
		if arg == "/tmp/out.wav" {
			wantOutput = true
		}
	}
	if !wantInput || !wantOutput {
		t.Fatalf("placeholders not substituted, args: %v", captured)
	}
}

func TestCommandClassifiesNonzeroExitAsTransient(t *testing.T) {
	stubCommand(t, "fail", nil)

	cfg := testsupport.NewConfig(t)
	cmd := NewCommand(cfg, logging.NewNop())

	err := cmd.Enhance(context.Background(), Request{InputPath: "/tmp/in.wav", OutputPath: "/tmp/out.wav"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestCommandClassifiesMissingBinaryAsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Enhancer.Command = filepath.Join(t.TempDir(), "definitely-missing-tool")
	cmd := NewCommand(cfg, logging.NewNop())

	err := cmd.Enhance(context.Background(), Request{InputPath: "/tmp/in.wav", OutputPath: "/tmp/out.wav"})
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestCommandDeadlineSurfacesAsTimeout(t *testing.T) {
	stubCommand(t, "hang", nil)

	cfg := testsupport.NewConfig(t)
	cfg.Enhancer.TimeoutSeconds = 0
	cmd := NewCommand(cfg, logging.NewNop())
	cmd.timeout = 50 * time.Millisecond

	err := cmd.Enhance(context.Background(), Request{InputPath: "/tmp/in.wav", OutputPath: "/tmp/out.wav"})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestCommandRequiresPaths(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cmd := NewCommand(cfg, logging.NewNop())

	if err := cmd.Enhance(context.Background(), Request{OutputPath: "/tmp/out.wav"}); !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error for missing input, got %v", err)
	}
	if err := cmd.Enhance(context.Background(), Request{InputPath: "/tmp/in.wav"}); !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error for missing output, got %v", err)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("ENHANCE_HELPER_MODE") {
	case "success":
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "simulated tool failure")
		os.Exit(3)
	case "hang":
		// A bare select{} trips the runtime deadlock detector and kills the
		// helper with exit 2 before the parent's deadline fires; sleep instead.
		time.Sleep(time.Hour)
	}
	os.Exit(0)
}
