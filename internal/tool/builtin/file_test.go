package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/swival/swival/internal/errs"
	"github.com/swival/swival/internal/outputcaps"
	"github.com/swival/swival/internal/pathpolicy"
	"github.com/swival/swival/internal/readtracker"
)

func newSandbox(t *testing.T, noReadGuard bool) (*Sandbox, string) {
	t.Helper()
	dir := t.TempDir()
	paths, err := pathpolicy.New(dir, nil, nil, false)
	if err != nil {
		t.Fatalf("pathpolicy.New: %v", err)
	}
	return &Sandbox{
		Paths: paths,
		Reads: readtracker.New(noReadGuard),
		Caps:  outputcaps.New(filepath.Join(dir, ".swival")),
	}, dir
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWriteFile_NewFileNeedsNoPriorRead(t *testing.T) {
	sb, dir := newSandbox(t, false)
	w := NewWriteFileTool(sb)

	res, err := w.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": "fresh.txt", "content": "hello",
	}))
	if err != nil || !res.Succeeded {
		t.Fatalf("write to new file failed: %v / %s", err, res.Error)
	}
	data, err := os.ReadFile(filepath.Join(dir, "fresh.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("file content = %q, %v", data, err)
	}
}

func TestWriteFile_ExistingFileRequiresPriorRead(t *testing.T) {
	sb, dir := newSandbox(t, false)
	if err := os.WriteFile(filepath.Join(dir, "x.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := NewWriteFileTool(sb)
	r := NewReadFileTool(sb)

	res, _ := w.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": "x.txt", "content": "new",
	}))
	if res.Succeeded || !strings.Contains(res.Error, string(errs.UnreadTarget)) {
		t.Fatalf("unread overwrite must fail with UnreadTarget, got %v / %s", res.Succeeded, res.Error)
	}

	if res, _ := r.Execute(context.Background(), mustArgs(t, map[string]any{"path": "x.txt"})); !res.Succeeded {
		t.Fatalf("read failed: %s", res.Error)
	}
	if res, _ := w.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": "x.txt", "content": "new",
	})); !res.Succeeded {
		t.Fatalf("post-read overwrite failed: %s", res.Error)
	}
}

func TestWriteFile_MoveFromExemptsReadRequirement(t *testing.T) {
	sb, dir := newSandbox(t, false)
	if err := os.WriteFile(filepath.Join(dir, "src.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dst.txt"), []byte("about to be replaced"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := NewWriteFileTool(sb)

	res, _ := w.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": "dst.txt", "content": "payload", "move_from": "src.txt",
	}))
	if !res.Succeeded {
		t.Fatalf("move_from write failed: %s", res.Error)
	}
	if _, err := os.Stat(filepath.Join(dir, "src.txt")); !os.IsNotExist(err) {
		t.Error("source must be gone after the move")
	}
}

func TestEditFile_RequiresPriorReadUnlessGuardDisabled(t *testing.T) {
	sb, dir := newSandbox(t, false)
	if err := os.WriteFile(filepath.Join(dir, "e.txt"), []byte("alpha beta"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEditFileTool(sb)

	res, _ := e.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": "e.txt", "old_string": "alpha", "new_string": "gamma",
	}))
	if res.Succeeded || !strings.Contains(res.Error, string(errs.UnreadTarget)) {
		t.Fatalf("unread edit must fail with UnreadTarget, got %v / %s", res.Succeeded, res.Error)
	}

	sbOpen, dirOpen := newSandbox(t, true)
	if err := os.WriteFile(filepath.Join(dirOpen, "e.txt"), []byte("alpha beta"), 0o644); err != nil {
		t.Fatal(err)
	}
	eOpen := NewEditFileTool(sbOpen)
	res, _ = eOpen.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": filepath.Join(dirOpen, "e.txt"), "old_string": "alpha", "new_string": "gamma",
	}))
	if !res.Succeeded {
		t.Fatalf("edit with the read guard disabled failed: %s", res.Error)
	}
}

func TestEditFile_OldStringMissing(t *testing.T) {
	sb, dir := newSandbox(t, false)
	path := filepath.Join(dir, "e.txt")
	if err := os.WriteFile(path, []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewReadFileTool(sb)
	if res, _ := r.Execute(context.Background(), mustArgs(t, map[string]any{"path": path})); !res.Succeeded {
		t.Fatal(res.Error)
	}

	e := NewEditFileTool(sb)
	res, _ := e.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": path, "old_string": "not there", "new_string": "x",
	}))
	if res.Succeeded {
		t.Error("edit with a missing old_string must fail")
	}
}

func TestReadFile_OffsetAndLimit(t *testing.T) {
	sb, dir := newSandbox(t, false)
	path := filepath.Join(dir, "lines.txt")
	if err := os.WriteFile(path, []byte("l1\nl2\nl3\nl4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewReadFileTool(sb)

	res, _ := r.Execute(context.Background(), mustArgs(t, map[string]any{
		"path": path, "offset": 1, "limit": 2,
	}))
	if !res.Succeeded {
		t.Fatal(res.Error)
	}
	if res.Output != "l2\nl3" {
		t.Errorf("windowed read = %q, want lines 2-3", res.Output)
	}
}

func TestReadFile_OutsideRootRejected(t *testing.T) {
	sb, _ := newSandbox(t, false)
	r := NewReadFileTool(sb)

	res, _ := r.Execute(context.Background(), mustArgs(t, map[string]any{"path": "/etc/hostname"}))
	if res.Succeeded {
		t.Fatal("read outside the allowed roots must fail")
	}
	if !strings.Contains(res.Error, string(errs.RootForbidden)) {
		t.Errorf("error = %q, want RootForbidden", res.Error)
	}
}
