package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileWriteThenRead(t *testing.T) {
	t.Parallel()
	ex := &FileExecutor{Root: t.TempDir()}
	ctx := context.Background()

	res := ex.Execute(ctx, Invocation{Tool: "file", Action: "write",
		Params: WriteParams{Path: "nested/dir/out.txt", Content: "line one\nline two\n"}})
	if !res.Success {
		t.Fatalf("write failed: %q", res.Error)
	}

	res = ex.Execute(ctx, Invocation{Tool: "file", Action: "read",
		Params: ReadParams{Path: "nested/dir/out.txt"}})
	if !res.Success {
		t.Fatalf("read failed: %q", res.Error)
	}
	if out, _ := res.Output.(string); out != "line one\nline two\n" {
		t.Errorf("read back %q", out)
	}
}

func TestFileReadMissing(t *testing.T) {
	t.Parallel()
	ex := &FileExecutor{Root: t.TempDir()}
	res := ex.Execute(context.Background(), Invocation{Tool: "file", Action: "read",
		Params: ReadParams{Path: "no-such-file.txt"}})
	if res.Success {
		t.Fatal("expected failure reading a missing file")
	}
}

func TestFileReadRejectsDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	ex := &FileExecutor{Root: root}
	res := ex.Execute(context.Background(), Invocation{Tool: "file", Action: "read",
		Params: ReadParams{Path: "d"}})
	if res.Success {
		t.Fatal("expected failure reading a directory")
	}
	if !strings.Contains(res.Error, "not a regular file") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestFileReadSizeLimit(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	big := filepath.Join(root, "big.bin")
	if err := os.WriteFile(big, make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}
	ex := &FileExecutor{Root: root, MaxRead: 16}
	res := ex.Execute(context.Background(), Invocation{Tool: "file", Action: "read",
		Params: ReadParams{Path: "big.bin"}})
	if res.Success {
		t.Fatal("expected failure over the read limit")
	}
	if !strings.Contains(res.Error, "limit") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestFileEdit(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "cfg.txt")
	if err := os.WriteFile(path, []byte("a = 1\nb = 2\na = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ex := &FileExecutor{Root: root}

	res := ex.Execute(context.Background(), Invocation{Tool: "file", Action: "edit",
		Params: EditParams{Path: "cfg.txt", Old: "a = 1", New: "a = 9"}})
	if !res.Success {
		t.Fatalf("edit failed: %q", res.Error)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// First occurrence only.
	if string(data) != "a = 9\nb = 2\na = 1\n" {
		t.Errorf("edited content = %q", data)
	}
}

func TestFileEditOldNotFoundLeavesFileUntouched(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "cfg.txt")
	original := "keep me as I am\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}
	ex := &FileExecutor{Root: root}

	res := ex.Execute(context.Background(), Invocation{Tool: "file", Action: "edit",
		Params: EditParams{Path: "cfg.txt", Old: "does not exist", New: "x"}})
	if res.Success {
		t.Fatal("expected failure for absent old content")
	}
	if !strings.Contains(res.Error, "old content not found") {
		t.Errorf("error = %q", res.Error)
	}
	data, _ := os.ReadFile(path)
	if string(data) != original {
		t.Errorf("file modified despite failed edit: %q", data)
	}
}

func TestFileContainmentEnforcedPerCall(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	ex := &FileExecutor{Root: root}
	ctx := context.Background()

	// A legitimate call first; a later escaping call must still be rejected,
	// and must not touch anything outside the root.
	if res := ex.Execute(ctx, Invocation{Tool: "file", Action: "write",
		Params: WriteParams{Path: "ok.txt", Content: "fine"}}); !res.Success {
		t.Fatalf("in-root write failed: %q", res.Error)
	}

	for _, action := range []Invocation{
		{Tool: "file", Action: "read", Params: ReadParams{Path: "../../etc/passwd"}},
		{Tool: "file", Action: "write", Params: WriteParams{Path: "../escape.txt", Content: "x"}},
		{Tool: "file", Action: "edit", Params: EditParams{Path: "/etc/hosts", Old: "a", New: "b"}},
	} {
		res := ex.Execute(ctx, action)
		if res.Success {
			t.Fatalf("escaping %s succeeded", action.Action)
		}
		if !strings.Contains(res.Error, "escapes project root") {
			t.Errorf("%s error = %q, want containment failure", action.Action, res.Error)
		}
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt")); !os.IsNotExist(err) {
		t.Error("escaping write created a file outside the root")
	}
}
