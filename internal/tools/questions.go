package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"minder/internal/dashboard"
	"minder/internal/llm"
	"minder/internal/timeparse"
)

type CreateQuestionTool struct {
	Deps DashboardDeps
}

type createQuestionArgs struct {
	Question      string `json:"question"`
	Context       string `json:"context"`
	RelatedTaskID string `json:"related_task_id"`
}

func (t *CreateQuestionTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "create_question",
			Description: "Record an open question for the user to answer later.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question":        map[string]any{"type": "string"},
					"context":         map[string]any{"type": "string"},
					"related_task_id": map[string]any{"type": "string"},
				},
				"required": []string{"question"},
			},
		},
	}
}

func (t *CreateQuestionTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in createQuestionArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Question) == "" {
		return "Error: question is required", nil
	}

	q := dashboard.Question{
		ID:            dashboard.NewID("q"),
		Question:      in.Question,
		Context:       in.Context,
		Status:        dashboard.QuestionStatusOpen,
		RelatedTaskID: in.RelatedTaskID,
		CreatedAt:     timeparse.Format(t.Deps.now()),
	}

	saveErr := t.Deps.Store.Locked(func() error {
		f := t.Deps.Store.LoadQuestions()
		f.Questions = append(f.Questions, q)
		return t.Deps.Store.SaveQuestions(f)
	})
	if saveErr != nil {
		return fmt.Sprintf("Error: could not save question: %v", saveErr), nil
	}

	return prettyJSON(map[string]any{
		"created":  true,
		"question": q,
	})
}

type AnswerQuestionTool struct {
	Deps DashboardDeps
}

type answerQuestionArgs struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

func (t *AnswerQuestionTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "answer_question",
			Description: "Record the user's answer to an open question.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":     map[string]any{"type": "string"},
					"answer": map[string]any{"type": "string"},
				},
				"required": []string{"id", "answer"},
			},
		},
	}
}

func (t *AnswerQuestionTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in answerQuestionArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return "Error: id is required", nil
	}
	if strings.TrimSpace(in.Answer) == "" {
		return "Error: answer is required", nil
	}

	var answered dashboard.Question
	saveErr := t.Deps.Store.Locked(func() error {
		f := t.Deps.Store.LoadQuestions()
		for i := range f.Questions {
			q := &f.Questions[i]
			if q.ID != id {
				continue
			}
			if q.Status == dashboard.QuestionStatusAnswered {
				return fmt.Errorf("question %s was already answered", id)
			}
			q.Status = dashboard.QuestionStatusAnswered
			q.Answer = in.Answer
			q.AnsweredAt = timeparse.Format(t.Deps.now())
			answered = *q
			return t.Deps.Store.SaveQuestions(f)
		}
		return fmt.Errorf("question %s not found", id)
	})
	if saveErr != nil {
		return fmt.Sprintf("Error: could not answer question: %v", saveErr), nil
	}

	return prettyJSON(map[string]any{
		"answered": true,
		"question": answered,
	})
}

type ListDashboardTool struct {
	Deps DashboardDeps
}

func (t *ListDashboardTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "list_dashboard",
			Description: "Show the current dashboard: active tasks, open questions, pending notifications.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

func (t *ListDashboardTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tasks := t.Deps.Store.LoadTasks().Tasks
	questions := t.Deps.Store.LoadQuestions().Questions

	open := make([]dashboard.Question, 0, len(questions))
	for _, q := range questions {
		if q.Status == dashboard.QuestionStatusOpen {
			open = append(open, q)
		}
	}

	pending := make([]dashboard.Notification, 0)
	for _, n := range t.Deps.Store.LoadNotifications().Notifications {
		if n.Status == dashboard.StatusPending {
			pending = append(pending, n)
		}
	}

	return prettyJSON(map[string]any{
		"tasks":                 tasks,
		"open_questions":        open,
		"pending_notifications": pending,
	})
}
