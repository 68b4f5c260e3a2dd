package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"minder/internal/llm"
	"minder/internal/util"
)

// FileDeps scopes the file tools to the workspace. Paths are resolved
// relative to it and may not escape it.
type FileDeps struct {
	Workspace string
}

// Writes to these are routed through the dashboard tools instead; letting
// the model edit the ledger JSON directly would bypass validation and the
// scheduler.
var protectedFiles = map[string]bool{
	"notifications.json": true,
	"tasks.json":         true,
	"questions.json":     true,
	"history.json":       true,
	"config.json":        true,
	".env":               true,
}

func (d FileDeps) resolve(raw string, forWrite bool) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", errors.New("path is required")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(d.Workspace, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(d.Workspace)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q is outside the workspace", raw)
	}
	if forWrite && protectedFiles[filepath.Base(abs)] {
		return "", fmt.Errorf("%s is managed by the dashboard tools; use create_task, schedule_notification, etc. instead of editing it directly", filepath.Base(abs))
	}
	return abs, nil
}

type ListFilesTool struct {
	Deps FileDeps
}

type listFilesArgs struct {
	Path          string `json:"path"`
	Recursive     bool   `json:"recursive"`
	MaxEntries    int    `json:"max_entries"`
	IncludeHidden bool   `json:"include_hidden"`
}

func (t *ListFilesTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "list_files",
			Description: "List files under a workspace path. Supports recursive listing and hidden files.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Directory to list, relative to the workspace (default: workspace root)",
					},
					"recursive":      map[string]any{"type": "boolean"},
					"max_entries":    map[string]any{"type": "integer"},
					"include_hidden": map[string]any{"type": "boolean"},
				},
			},
		},
	}
}

func (t *ListFilesTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in listFilesArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
	}
	if in.Path == "" {
		in.Path = "."
	}
	if in.MaxEntries <= 0 {
		in.MaxEntries = 2000
	}
	root, err := t.Deps.resolve(in.Path, false)
	if err != nil {
		return "", err
	}

	results := make([]string, 0, 128)
	if in.Recursive {
		var stopErr = errors.New("max entries reached")
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == root {
				return nil
			}
			name := d.Name()
			if !in.IncludeHidden && strings.HasPrefix(name, ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if d.IsDir() {
				rel += string(os.PathSeparator)
			}
			results = append(results, rel)
			if len(results) >= in.MaxEntries {
				return stopErr
			}
			return nil
		})
		if err != nil && !errors.Is(err, stopErr) {
			return "", err
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return "", err
		}
		for _, entry := range entries {
			name := entry.Name()
			if !in.IncludeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			if entry.IsDir() {
				name += string(os.PathSeparator)
			}
			results = append(results, name)
			if len(results) >= in.MaxEntries {
				break
			}
		}
	}

	if len(results) == 0 {
		return "(no entries)", nil
	}
	return strings.Join(results, "\n"), nil
}

type ReadFileTool struct {
	Deps FileDeps
}

type readFileArgs struct {
	Path            string `json:"path"`
	StartLine       int    `json:"start_line"`
	EndLine         int    `json:"end_line"`
	WithLineNumbers bool   `json:"with_line_numbers"`
}

func (t *ReadFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "read_file",
			Description: "Read a workspace file. Supports line ranges and optional line numbers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":              map[string]any{"type": "string"},
					"start_line":        map[string]any{"type": "integer"},
					"end_line":          map[string]any{"type": "integer"},
					"with_line_numbers": map[string]any{"type": "boolean"},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (t *ReadFileTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in readFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	path, err := t.Deps.resolve(in.Path, false)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := splitLines(string(data))
	if len(lines) == 0 {
		return "", nil
	}

	start := in.StartLine
	end := in.EndLine
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end || start > len(lines) {
		return "", fmt.Errorf("invalid line range: %d-%d", start, end)
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		if in.WithLineNumbers {
			fmt.Fprintf(&b, "%d: %s", i, lines[i-1])
		} else {
			b.WriteString(lines[i-1])
		}
		if i != end {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

type WriteFileTool struct {
	Deps FileDeps
}

type writeFileArgs struct {
	Path       string  `json:"path"`
	Content    *string `json:"content"`
	CreateDirs bool    `json:"create_dirs"`
	Append     bool    `json:"append"`
}

func (t *WriteFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "write_file",
			Description: "Write content to a workspace file. Arguments must be a valid JSON object; for large files write in chunks with append=true after the first call.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":        map[string]any{"type": "string"},
					"content":     map[string]any{"type": "string"},
					"create_dirs": map[string]any{"type": "boolean"},
					"append":      map[string]any{"type": "boolean"},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (t *WriteFileTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in writeFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("write_file: invalid JSON arguments (possibly truncated): %w", err)
	}
	if in.Content == nil {
		return "", errors.New("content is required")
	}
	path, err := t.Deps.resolve(in.Path, true)
	if err != nil {
		return "", err
	}
	if in.CreateDirs {
		if err := util.EnsureParentDir(path); err != nil {
			return "", err
		}
	}
	data := []byte(*in.Content)

	if in.Append {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", err
		}
		defer file.Close()
		if _, err := file.Write(data); err != nil {
			return "", err
		}
		return "ok", nil
	}

	// Overwrite through a temp file in the same directory, then rename.
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".write_file_*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", err
	}
	return "ok", nil
}

type EditFileTool struct {
	Deps FileDeps
}

type editFileArgs struct {
	Path  string       `json:"path"`
	Edits []editChange `json:"edits"`
}

type editChange struct {
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all"`
}

func (t *EditFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "edit_file",
			Description: "Edit a workspace file by replacing text. Applies edits in order.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
					"edits": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"old_text":    map[string]any{"type": "string"},
								"new_text":    map[string]any{"type": "string"},
								"replace_all": map[string]any{"type": "boolean"},
							},
							"required": []string{"old_text", "new_text"},
						},
					},
				},
				"required": []string{"path", "edits"},
			},
		},
	}
}

func (t *EditFileTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in editFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if len(in.Edits) == 0 {
		return "", errors.New("edits are required")
	}
	path, err := t.Deps.resolve(in.Path, true)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	for _, edit := range in.Edits {
		if edit.ReplaceAll {
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
			continue
		}
		idx := strings.Index(content, edit.OldText)
		if idx < 0 {
			return "", fmt.Errorf("old_text not found")
		}
		content = content[:idx] + edit.NewText + content[idx+len(edit.OldText):]
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return "ok", nil
}

type DeleteFileTool struct {
	Deps FileDeps
}

type deleteFileArgs struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

func (t *DeleteFileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "delete_file",
			Description: "Delete a workspace file or directory.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string"},
					"recursive": map[string]any{"type": "boolean"},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (t *DeleteFileTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in deleteFileArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	path, err := t.Deps.resolve(in.Path, true)
	if err != nil {
		return "", err
	}
	if in.Recursive {
		if err := os.RemoveAll(path); err != nil {
			return "", err
		}
		return "ok", nil
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return "ok", nil
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lines := make([]string, 0, 128)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 && content != "" {
		return []string{content}
	}
	return lines
}
