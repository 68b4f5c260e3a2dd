package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"minder/internal/dashboard"
	"minder/internal/llm"
	"minder/internal/timeparse"
)

// DashboardDeps is shared by the task and question tools.
type DashboardDeps struct {
	Store *dashboard.Store
	Now   func() time.Time
}

func (d DashboardDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

type CreateTaskTool struct {
	Deps DashboardDeps
}

type createTaskArgs struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Deadline    string   `json:"deadline"`
	Tags        []string `json:"tags"`
}

func (t *CreateTaskTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "create_task",
			Description: "Create a task on the dashboard.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"priority": map[string]any{
						"type": "string",
						"enum": []string{"low", "medium", "high"},
					},
					"deadline": map[string]any{
						"type":        "string",
						"description": "Optional deadline: ISO datetime or natural phrase",
					},
					"tags": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
				"required": []string{"title"},
			},
		},
	}
}

func (t *CreateTaskTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in createTaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Title) == "" {
		return "Error: title is required", nil
	}
	if in.Priority == "" {
		in.Priority = dashboard.PriorityMedium
	}

	now := t.Deps.now()
	task := dashboard.Task{
		ID:          dashboard.NewID("task"),
		Title:       in.Title,
		Description: in.Description,
		Status:      dashboard.TaskStatusTodo,
		Priority:    in.Priority,
		Tags:        in.Tags,
		CreatedAt:   timeparse.Format(now),
		UpdatedAt:   timeparse.Format(now),
	}
	if strings.TrimSpace(in.Deadline) != "" {
		deadline, err := timeparse.Parse(in.Deadline, now)
		if err != nil {
			return fmt.Sprintf("Error: could not parse deadline %q: %v", in.Deadline, err), nil
		}
		task.Deadline = timeparse.Format(deadline)
	}

	saveErr := t.Deps.Store.Locked(func() error {
		f := t.Deps.Store.LoadTasks()
		f.Tasks = append(f.Tasks, task)
		return t.Deps.Store.SaveTasks(f)
	})
	if saveErr != nil {
		return fmt.Sprintf("Error: could not save task: %v", saveErr), nil
	}

	return prettyJSON(map[string]any{
		"created": true,
		"task":    task,
	})
}

type UpdateTaskTool struct {
	Deps DashboardDeps
}

type updateTaskArgs struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	Deadline     string `json:"deadline"`
	ProgressNote string `json:"progress_note"`
}

func (t *UpdateTaskTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "update_task",
			Description: "Update a task's fields: status, priority, deadline, progress note.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          map[string]any{"type": "string"},
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"status": map[string]any{
						"type": "string",
						"enum": []string{"todo", "in_progress", "blocked", "done"},
					},
					"priority": map[string]any{
						"type": "string",
						"enum": []string{"low", "medium", "high"},
					},
					"deadline":      map[string]any{"type": "string"},
					"progress_note": map[string]any{"type": "string"},
				},
				"required": []string{"id"},
			},
		},
	}
}

func (t *UpdateTaskTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in updateTaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return "Error: id is required", nil
	}

	now := t.Deps.now()
	var deadline string
	if strings.TrimSpace(in.Deadline) != "" {
		parsed, err := timeparse.Parse(in.Deadline, now)
		if err != nil {
			return fmt.Sprintf("Error: could not parse deadline %q: %v", in.Deadline, err), nil
		}
		deadline = timeparse.Format(parsed)
	}

	var updated dashboard.Task
	saveErr := t.Deps.Store.Locked(func() error {
		f := t.Deps.Store.LoadTasks()
		for i := range f.Tasks {
			task := &f.Tasks[i]
			if task.ID != id {
				continue
			}
			if in.Title != "" {
				task.Title = in.Title
			}
			if in.Description != "" {
				task.Description = in.Description
			}
			if in.Status != "" {
				task.Status = in.Status
			}
			if in.Priority != "" {
				task.Priority = in.Priority
			}
			if deadline != "" {
				task.Deadline = deadline
			}
			if in.ProgressNote != "" {
				task.ProgressNote = in.ProgressNote
			}
			task.UpdatedAt = timeparse.Format(now)
			updated = *task
			return t.Deps.Store.SaveTasks(f)
		}
		return fmt.Errorf("task %s not found", id)
	})
	if saveErr != nil {
		return fmt.Sprintf("Error: could not update task: %v", saveErr), nil
	}

	return prettyJSON(map[string]any{
		"updated": true,
		"task":    updated,
	})
}

type ArchiveTaskTool struct {
	Deps DashboardDeps
}

type archiveTaskArgs struct {
	ID         string `json:"id"`
	Reflection string `json:"reflection"`
}

func (t *ArchiveTaskTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "archive_task",
			Description: "Move a finished task from the dashboard into history.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{"type": "string"},
					"reflection": map[string]any{
						"type":        "string",
						"description": "Optional closing note kept with the archived task",
					},
				},
				"required": []string{"id"},
			},
		},
	}
}

func (t *ArchiveTaskTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in archiveTaskArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return "Error: id is required", nil
	}

	now := t.Deps.now()
	var archived dashboard.CompletedTask
	saveErr := t.Deps.Store.Locked(func() error {
		tasksFile := t.Deps.Store.LoadTasks()
		idx := -1
		for i, task := range tasksFile.Tasks {
			if task.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("task %s not found", id)
		}
		task := tasksFile.Tasks[idx]

		archived = dashboard.CompletedTask{
			ID:           task.ID,
			Title:        task.Title,
			CompletedAt:  timeparse.Format(now),
			DurationDays: durationDays(task.CreatedAt, now),
			ProgressNote: task.ProgressNote,
			MovedAt:      timeparse.Format(now),
		}
		if in.Reflection != "" {
			archived.ProgressNote = in.Reflection
		}

		// History first, removal second: a failure between the two leaves
		// the task visible in both places, which the next pass can clean
		// up, instead of losing it.
		historyFile := t.Deps.Store.LoadHistory()
		historyFile.CompletedTasks = append(historyFile.CompletedTasks, archived)
		if err := t.Deps.Store.SaveHistory(historyFile); err != nil {
			return fmt.Errorf("save history (task not removed): %w", err)
		}

		tasksFile.Tasks = append(tasksFile.Tasks[:idx], tasksFile.Tasks[idx+1:]...)
		return t.Deps.Store.SaveTasks(tasksFile)
	})
	if saveErr != nil {
		return fmt.Sprintf("Error: could not archive task: %v", saveErr), nil
	}

	return prettyJSON(map[string]any{
		"archived": true,
		"task":     archived,
	})
}

func durationDays(createdAt string, now time.Time) int {
	created, err := timeparse.Parse(createdAt, now)
	if err != nil {
		return 0
	}
	days := int(now.Sub(created).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
