package agentloop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/laynepenney/codi/unifiedllm"
)

func TestResolvePathRejectsEscapeViaDotDot(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	_, err := env.resolvePath("../../etc/passwd")
	if err == nil {
		t.Fatalf("expected a path-safety error for a path escaping the root")
	}
	if _, ok := err.(*unifiedllm.PathSafetyError); !ok {
		t.Errorf("resolvePath error = %T, want *unifiedllm.PathSafetyError", err)
	}
}

func TestResolvePathAllowsPathsWithinRoot(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	resolved, err := env.resolvePath("sub/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(dir, "sub", "file.txt")
	if resolved != want {
		t.Errorf("resolved = %q, want %q", resolved, want)
	}
}

func TestResolvePathRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	link := filepath.Join(dir, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}

	_, err := env.resolvePath("escape/file.txt")
	if err == nil {
		t.Fatalf("expected a path-safety error for a symlink resolving outside the root")
	}
	if _, ok := err.(*unifiedllm.PathSafetyError); !ok {
		t.Errorf("resolvePath error = %T, want *unifiedllm.PathSafetyError", err)
	}
}

func TestWriteFileThenReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	if err := env.WriteFile("notes.txt", "line one\nline two\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := env.ReadFile("notes.txt", 0, 0)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "1 | line one\n2 | line two\n3 | \n"
	if got != want {
		t.Errorf("ReadFile = %q, want %q", got, want)
	}
}

func TestWriteFileRejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	err := env.WriteFile("../outside.txt", "nope")
	if err == nil {
		t.Fatalf("expected WriteFile to refuse a path outside the root")
	}
}

func TestDeleteFileRemovesFile(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	if err := env.WriteFile("gone.txt", "temporary"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := env.DeleteFile("gone.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if env.FileExists("gone.txt") {
		t.Errorf("expected gone.txt to no longer exist after DeleteFile")
	}
}

func TestDeleteFileRejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	err := env.DeleteFile("../outside.txt")
	if err == nil {
		t.Fatalf("expected DeleteFile to refuse a path outside the root")
	}
}

func TestDeleteFileMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	env := NewLocalExecutionEnvironment(dir)

	if err := env.DeleteFile("never-existed.txt"); err == nil {
		t.Fatalf("expected DeleteFile to error on a missing file")
	}
}
