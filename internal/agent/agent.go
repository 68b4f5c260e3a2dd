// Package agent runs the LLM conversation loop. Each inbound message is
// handled statelessly: the dashboard summary in the system prompt is the
// single source of truth, not chat history.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"minder/internal/dashboard"
	"minder/internal/llm"
	"minder/internal/tools"
)

// Bootstrap files are prepended to the system prompt when present in the
// workspace. They carry the user's standing instructions and persona notes.
var bootstrapFiles = []string{"AGENTS.md", "USER.md", "TOOLS.md"}

type Agent struct {
	Client      llm.ChatClient
	Tools       *tools.Registry
	Store       *dashboard.Store
	Workspace   string
	Temperature float32
	MaxTurns    int

	now func() time.Time
	log *slog.Logger
}

type Options struct {
	Temperature float32
	MaxTurns    int
	Now         func() time.Time
	Logger      *slog.Logger
}

func New(client llm.ChatClient, registry *tools.Registry, store *dashboard.Store, workspace string, opts Options) *Agent {
	a := &Agent{
		Client:      client,
		Tools:       registry,
		Store:       store,
		Workspace:   workspace,
		Temperature: opts.Temperature,
		MaxTurns:    opts.MaxTurns,
		now:         opts.Now,
		log:         opts.Logger,
	}
	if a.MaxTurns <= 0 {
		a.MaxTurns = 20
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.log == nil {
		a.log = slog.Default().With("component", "agent")
	}
	return a
}

// HandleMessage answers one inbound chat message. The returned text is the
// final assistant reply after the tool loop settles.
func (a *Agent) HandleMessage(ctx context.Context, channelName, chatID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("message text is required")
	}
	system := a.buildSystemPrompt(channelName, chatID)
	return a.runLoop(ctx, system, text)
}

// RunTask runs a one-shot instruction without a chat session, used by the
// CLI and the heartbeat runner.
func (a *Agent) RunTask(ctx context.Context, task string) (string, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return "", fmt.Errorf("task is required")
	}
	system := a.buildSystemPrompt("", "")
	return a.runLoop(ctx, system, task)
}

func (a *Agent) runLoop(ctx context.Context, system, userText string) (string, error) {
	if a.Client == nil {
		return "", fmt.Errorf("llm client is nil")
	}

	reqMessages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userText},
	}

	for turn := 0; turn < a.MaxTurns; turn++ {
		resp, err := a.Client.Chat(ctx, llm.ChatRequest{
			Messages:    reqMessages,
			Tools:       a.Tools.Definitions(),
			Temperature: a.Temperature,
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("chat response has no choices")
		}
		msg := resp.Choices[0].Message
		reqMessages = append(reqMessages, msg)

		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		for _, call := range msg.ToolCalls {
			start := a.now()
			result, callErr := a.Tools.Call(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
			a.log.Debug("tool call",
				"tool", call.Function.Name,
				"duration", time.Since(start).Round(time.Millisecond),
				"error", callErr,
			)

			toolMsg := llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			}
			if callErr != nil {
				toolMsg.Content = "ERROR: " + callErr.Error()
			}
			reqMessages = append(reqMessages, toolMsg)
		}
	}

	return "", fmt.Errorf("conversation reached max turns: %d", a.MaxTurns)
}

func (a *Agent) buildSystemPrompt(channelName, chatID string) string {
	var b strings.Builder

	now := a.now()
	b.WriteString("# minder\n\n")
	b.WriteString("You are a personal assistant that manages the user's tasks, questions, and scheduled notifications through tools.\n")
	b.WriteString("The dashboard summary below is the single source of truth. Do not rely on conversation memory; consult and update the dashboard with tools.\n")
	b.WriteString("Use schedule_notification for future pings, never promise to \"remind later\" without scheduling one.\n\n")
	fmt.Fprintf(&b, "## Current Time\n%s\n\n", now.Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&b, "## Workspace\n%s\n", a.Workspace)

	if boot := a.loadBootstrapFiles(); boot != "" {
		b.WriteString("\n---\n\n")
		b.WriteString(boot)
	}

	if summary := a.dashboardSummary(); summary != "" {
		b.WriteString("\n---\n\n# Dashboard State\n\n")
		b.WriteString(summary)
	}

	if channelName != "" && chatID != "" {
		fmt.Fprintf(&b, "\n---\n\n## Current Session\nChannel: %s\nChat ID: %s\n", channelName, chatID)
	}
	return b.String()
}

func (a *Agent) loadBootstrapFiles() string {
	var parts []string
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(a.Workspace, name))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, content))
	}
	return strings.Join(parts, "\n\n")
}

func (a *Agent) dashboardSummary() string {
	if a.Store == nil {
		return ""
	}
	var b strings.Builder

	_ = a.Store.Locked(func() error {
		active := 0
		for _, t := range a.Store.LoadTasks().Tasks {
			if t.Status == dashboard.TaskStatusDone {
				continue
			}
			if active == 0 {
				b.WriteString("## Active Tasks\n")
			}
			active++
			fmt.Fprintf(&b, "- [%s] %s (%s, priority %s", t.ID, t.Title, t.Status, t.Priority)
			if t.Deadline != "" {
				fmt.Fprintf(&b, ", deadline %s", t.Deadline)
			}
			b.WriteString(")\n")
			if t.ProgressNote != "" {
				fmt.Fprintf(&b, "  Progress: %s\n", t.ProgressNote)
			}
		}

		open := 0
		for _, q := range a.Store.LoadQuestions().Questions {
			if q.Status != dashboard.QuestionStatusOpen {
				continue
			}
			if open == 0 {
				b.WriteString("\n## Open Questions\n")
			}
			open++
			fmt.Fprintf(&b, "- [%s] %s\n", q.ID, q.Question)
		}

		pending := 0
		for _, n := range a.Store.LoadNotifications().Notifications {
			if n.Status != dashboard.StatusPending {
				continue
			}
			if pending == 0 {
				b.WriteString("\n## Pending Notifications\n")
			}
			pending++
			fmt.Fprintf(&b, "- [%s] %s at %s (%s)\n", n.ID, n.Message, n.ScheduledAt, n.Priority)
		}
		return nil
	})

	return strings.TrimSpace(b.String())
}
