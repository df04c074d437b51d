package cliproxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/relaygate/core/observability"
)

// acquireScratchDir acquires a per-request scratch directory with guaranteed
// cleanup on every exit path (spec.md §4.5 step 1).
func acquireScratchDir(root string) (dir string, cleanup func(), err error) {
	dir, err = os.MkdirTemp(root, "cliproxy-"+uuid.NewString()+"-")
	if err != nil {
		return "", nil, fmt.Errorf("acquire scratch dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// buildArgv constructs the CLI's argument vector. Arguments are always
// passed as a vector, never assembled into a shell string; the model
// selector is whitelisted before inclusion (spec.md §4.5 step 3).
func buildArgv(cfg Config, submodel, prompt, systemPrompt, toolConfigPath string) ([]string, error) {
	if !modelSelectorPattern.MatchString(submodel) {
		return nil, fmt.Errorf("model selector %q contains disallowed characters", submodel)
	}

	argv := append([]string(nil), cfg.BaseArgs...)
	argv = append(argv, cfg.ModelFlag, submodel)
	argv = append(argv, cfg.PromptFlag, prompt)
	if systemPrompt != "" {
		argv = append(argv, cfg.SystemPromptFlag, systemPrompt)
	}
	if cfg.StreamFlag != "" {
		argv = append(argv, cfg.StreamFlag)
	}
	if toolConfigPath != "" && cfg.ToolConfigFlag != "" {
		argv = append(argv, cfg.ToolConfigFlag, toolConfigPath)
	}

	if cfg.ExtraFlags != "" {
		tokens, err := shlex.Split(cfg.ExtraFlags)
		if err != nil {
			return nil, fmt.Errorf("tokenize extra flags: %w", err)
		}
		argv = append(argv, tokens...)
	}
	return argv, nil
}

// subprocessResult is what one CLI invocation produced.
type subprocessResult struct {
	outcome  *streamOutcome
	exitCode int
	stderr   string
	timedOut bool
}

// runSubprocess spawns the CLI with stdout/stderr captured as pipes, stdin
// closed, and a wall-clock timeout; on timeout or context cancellation it
// sends SIGTERM then escalates to SIGKILL after a grace period (spec.md
// §4.5 steps 4, 6).
func runSubprocess(ctx context.Context, cfg Config, scratchDir string, argv []string, hooks *observability.Hooks, metrics *observability.Metrics, requestID string) (*subprocessResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, cfg.SubprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.Command, argv...)
	cmd.Dir = scratchDir
	cmd.Stdin = nil
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = cfg.GraceTimeout

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	var stderrBuf limitedBuffer
	cmd.Stderr = &stderrBuf

	hooks.SafeLog(ctx, "debug", "cliproxy: spawning subprocess", map[string]any{"request_id": requestID, "command": cfg.Command})

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start subprocess: %w", err)
	}

	outcome := parseEventStream(runCtx, stdoutPipe, hooks, requestID)

	waitErr := cmd.Wait()
	exitCode := 0
	timedOut := runCtx.Err() != nil
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if metrics != nil {
		result := "success"
		if exitCode != 0 {
			result = "nonzero_exit"
		}
		if timedOut {
			result = "timeout"
		}
		metrics.RecordCLIExit(result)
	}

	return &subprocessResult{outcome: outcome, exitCode: exitCode, stderr: stderrBuf.Tail(4096), timedOut: timedOut}, nil
}

// limitedBuffer retains only the tail of what's written to it, matching
// spec.md §4.5's "stderr tail" failure detail without unbounded memory use.
type limitedBuffer struct {
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max == 0 {
		b.max = 1 << 16
	}
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *limitedBuffer) Tail(n int) string {
	if len(b.buf) <= n {
		return string(b.buf)
	}
	return string(b.buf[len(b.buf)-n:])
}

var _ io.Writer = (*limitedBuffer)(nil)
