// Package sandbox provides the safety checks applied to agent-authored tool
// invocations: a shell command denylist, project-root path containment, and
// optional bubblewrap isolation for spawned shells on Linux.
package sandbox

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
)

// WrapShell returns an *exec.Cmd that runs cmdLine via "sh -c" with dir as the
// working directory. On Linux, when bubblewrap (bwrap) is available, the shell
// runs inside a minimal bwrap sandbox with only dir writable; everything else
// is bind-mounted read-only. Elsewhere, or when bwrap is missing, the command
// runs directly — the denylist remains the only (best-effort) guard.
func WrapShell(ctx context.Context, dir, cmdLine string) *exec.Cmd {
	plain := func() *exec.Cmd {
		cmd := exec.CommandContext(ctx, "sh", "-c", cmdLine)
		cmd.Dir = dir
		return cmd
	}
	if runtime.GOOS != "linux" || dir == "" {
		return plain()
	}
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return plain()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return plain()
	}
	args := []string{
		"--ro-bind", "/", "/",
		"--bind", absDir, absDir,
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--chdir", absDir,
		"--unshare-pid",
		"--die-with-parent",
		"--", "sh", "-c", cmdLine,
	}
	return exec.CommandContext(ctx, bwrap, args...)
}
