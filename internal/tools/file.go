package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/sandbox"
)

// DefaultMaxReadBytes bounds file reads.
const DefaultMaxReadBytes = 5 << 20 // 5 MiB

// FileExecutor performs read/write/edit invocations under the project root.
// Every path is containment-checked against the root before any filesystem
// call; checks are never cached across invocations.
type FileExecutor struct {
	Root    string
	MaxRead int64 // 0 = DefaultMaxReadBytes
}

func (f *FileExecutor) Name() string { return "file" }

func (f *FileExecutor) Execute(ctx context.Context, inv Invocation) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = failure(start, "file executor panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return failure(start, "cancelled: %v", err)
	}

	switch p := inv.Params.(type) {
	case ReadParams:
		return f.read(start, p)
	case WriteParams:
		return f.write(start, p)
	case EditParams:
		return f.edit(start, p)
	default:
		return failure(start, "file: unsupported params %T", inv.Params)
	}
}

func (f *FileExecutor) read(start time.Time, p ReadParams) Result {
	path, err := sandbox.ResolveWithinRoot(f.Root, p.Path)
	if err != nil {
		return failure(start, "read %s: %v", p.Path, err)
	}
	maxRead := f.MaxRead
	if maxRead <= 0 {
		maxRead = DefaultMaxReadBytes
	}
	info, err := os.Stat(path)
	if err != nil {
		return failure(start, "read %s: %v", p.Path, err)
	}
	if !info.Mode().IsRegular() {
		return failure(start, "read %s: not a regular file", p.Path)
	}
	if info.Size() > maxRead {
		return failure(start, "read %s: file is %d bytes, limit %d", p.Path, info.Size(), maxRead)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return failure(start, "read %s: %v", p.Path, err)
	}
	return Result{
		Success:    true,
		Output:     string(data),
		DurationMs: time.Since(start).Milliseconds(),
		Meta:       map[string]any{"bytes": len(data)},
	}
}

func (f *FileExecutor) write(start time.Time, p WriteParams) Result {
	path, err := sandbox.ResolveWithinRoot(f.Root, p.Path)
	if err != nil {
		return failure(start, "write %s: %v", p.Path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure(start, "write %s: %v", p.Path, err)
	}
	if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
		return failure(start, "write %s: %v", p.Path, err)
	}
	return Result{
		Success:    true,
		Output:     fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path),
		DurationMs: time.Since(start).Milliseconds(),
		Meta:       map[string]any{"bytes": len(p.Content)},
	}
}

// edit replaces the first occurrence of the literal old content. If old is
// absent the file is left untouched; this is not a fuzzy patch or merge.
func (f *FileExecutor) edit(start time.Time, p EditParams) Result {
	path, err := sandbox.ResolveWithinRoot(f.Root, p.Path)
	if err != nil {
		return failure(start, "edit %s: %v", p.Path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return failure(start, "edit %s: %v", p.Path, err)
	}
	content := string(data)
	if !strings.Contains(content, p.Old) {
		return failure(start, "edit %s: old content not found", p.Path)
	}
	updated := strings.Replace(content, p.Old, p.New, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return failure(start, "edit %s: %v", p.Path, err)
	}
	return Result{
		Success:    true,
		Output:     fmt.Sprintf("edited %s", p.Path),
		DurationMs: time.Since(start).Milliseconds(),
	}
}
