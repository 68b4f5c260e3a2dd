package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func callFileTool(t *testing.T, tool Tool, payload any) (string, error) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return tool.Call(context.Background(), json.RawMessage(data))
}

func TestWriteReadEditRoundTrip(t *testing.T) {
	deps := FileDeps{Workspace: t.TempDir()}

	out, err := callFileTool(t, &WriteFileTool{Deps: deps}, map[string]any{
		"path":    "notes/today.md",
		"content": "first line\nsecond line",
		"create_dirs": true,
	})
	if err != nil {
		t.Fatalf("write_file failed: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected write result %q", out)
	}

	got, err := callFileTool(t, &ReadFileTool{Deps: deps}, map[string]any{"path": "notes/today.md"})
	if err != nil {
		t.Fatalf("read_file failed: %v", err)
	}
	if got != "first line\nsecond line" {
		t.Fatalf("unexpected content %q", got)
	}

	if _, err := callFileTool(t, &EditFileTool{Deps: deps}, map[string]any{
		"path": "notes/today.md",
		"edits": []map[string]any{
			{"old_text": "second", "new_text": "last"},
		},
	}); err != nil {
		t.Fatalf("edit_file failed: %v", err)
	}

	got, err = callFileTool(t, &ReadFileTool{Deps: deps}, map[string]any{
		"path": "notes/today.md", "start_line": 2, "end_line": 2,
	})
	if err != nil {
		t.Fatalf("read_file range failed: %v", err)
	}
	if got != "last line" {
		t.Fatalf("unexpected range content %q", got)
	}
}

func TestFileToolsRejectEscapingPaths(t *testing.T) {
	deps := FileDeps{Workspace: t.TempDir()}

	_, err := callFileTool(t, &ReadFileTool{Deps: deps}, map[string]any{"path": "../../etc/passwd"})
	if err == nil || !strings.Contains(err.Error(), "outside the workspace") {
		t.Fatalf("expected workspace escape error, got %v", err)
	}
}

func TestWriteFileRejectsLedgerFiles(t *testing.T) {
	deps := FileDeps{Workspace: t.TempDir()}

	_, err := callFileTool(t, &WriteFileTool{Deps: deps}, map[string]any{
		"path":    "dashboard/notifications.json",
		"content": "{}",
	})
	if err == nil || !strings.Contains(err.Error(), "dashboard tools") {
		t.Fatalf("expected ledger protection error, got %v", err)
	}
}

func TestListFilesSkipsHidden(t *testing.T) {
	ws := t.TempDir()
	deps := FileDeps{Workspace: ws}
	for _, name := range []string{"visible.txt", ".hidden"} {
		if err := os.WriteFile(filepath.Join(ws, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}

	out, err := callFileTool(t, &ListFilesTool{Deps: deps}, map[string]any{})
	if err != nil {
		t.Fatalf("list_files failed: %v", err)
	}
	if !strings.Contains(out, "visible.txt") || strings.Contains(out, ".hidden") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
}

func TestDeleteFile(t *testing.T) {
	ws := t.TempDir()
	deps := FileDeps{Workspace: ws}
	path := filepath.Join(ws, "scratch.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if _, err := callFileTool(t, &DeleteFileTool{Deps: deps}, map[string]any{"path": "scratch.txt"}); err != nil {
		t.Fatalf("delete_file failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists: %v", err)
	}
}
