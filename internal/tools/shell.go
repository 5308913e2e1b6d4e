package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/sandbox"
)

const (
	// DefaultShellTimeout bounds one command's wall-clock runtime.
	DefaultShellTimeout = 30 * time.Second
	// DefaultMaxOutputBytes caps captured stdout+stderr.
	DefaultMaxOutputBytes = 10 << 20 // 10 MiB
	// DefaultDisplayCap truncates output shown back to the conversation.
	DefaultDisplayCap = 10_000
)

// ShellExecutor runs shell invocations inside the project working directory,
// guarded by the sandbox denylist, a timeout, and an output cap.
type ShellExecutor struct {
	Root       string
	Timeout    time.Duration // 0 = DefaultShellTimeout
	MaxOutput  int64         // 0 = DefaultMaxOutputBytes
	DisplayCap int           // 0 = DefaultDisplayCap
}

func (s *ShellExecutor) Name() string { return "shell" }

// Execute runs the invocation's command via "sh -c". Success means the
// command produced no stderr; the exit code alone does not decide it. That
// matches what the agent prompts were written against — benign stderr chatter
// reads as failure — so the actual exit code is recorded in Meta["exit_code"]
// for callers that want stricter semantics.
func (s *ShellExecutor) Execute(ctx context.Context, inv Invocation) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = failure(start, "shell executor panic: %v", r)
		}
	}()

	params, ok := inv.Params.(ShellParams)
	if !ok {
		return failure(start, "shell: unsupported params %T", inv.Params)
	}
	if deny := sandbox.BlockedShellCommand(params.Command); deny != "" {
		return failure(start, "command blocked by denylist (%q)", deny)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	maxOutput := s.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	displayCap := s.DisplayCap
	if displayCap <= 0 {
		displayCap = DefaultDisplayCap
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := sandbox.WrapShell(execCtx, s.Root, params.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxOutput}
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxOutput}

	err := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return failure(start, "command timed out after %s", timeout)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return failure(start, "spawn failed: %v", err)
		}
	}

	out, truncated := truncate(stdout.String(), displayCap)
	errOut := stderr.String()
	res = Result{
		Success:    errOut == "",
		Output:     out,
		DurationMs: time.Since(start).Milliseconds(),
		Meta: map[string]any{
			"exit_code": exitCode,
			"truncated": truncated,
			"bytes":     stdout.Len(),
		},
	}
	if errOut != "" {
		trimmed, _ := truncate(errOut, displayCap)
		res.Error = trimmed
	}
	slog.Debug("shell command finished", "exit_code", exitCode, "success", res.Success, "duration_ms", res.DurationMs)
	return res
}

func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	return s[:limit] + "\n... [output truncated]", true
}

// limitedWriter stops accepting bytes past n without failing the command.
type limitedWriter struct {
	w io.Writer
	n int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > l.n {
		if _, err := l.w.Write(p[:l.n]); err != nil {
			return 0, err
		}
		l.n = 0
		return len(p), nil
	}
	l.n -= int64(len(p))
	return l.w.Write(p)
}
