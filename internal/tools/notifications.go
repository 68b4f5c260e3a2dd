package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"minder/internal/dashboard"
	"minder/internal/llm"
	"minder/internal/notify"
	"minder/internal/sched"
	"minder/internal/timeparse"
)

// NotificationDeps bundles what the notification tools mutate: the ledger
// and the scheduler. These four tools are the only write path over that
// pair; everything else (reconciler included) only repairs what they create.
type NotificationDeps struct {
	Store *dashboard.Store
	Jobs  notify.JobStore

	// Delivery target baked into armed jobs.
	Channel string
	ChatID  string

	// CreatedBy stamps new entries; the worker registers its own instance
	// with "worker".
	CreatedBy string

	Now func() time.Time
}

func (d NotificationDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d NotificationDeps) createdBy() string {
	if d.CreatedBy != "" {
		return d.CreatedBy
	}
	return "main_agent"
}

type ScheduleNotificationTool struct {
	Deps NotificationDeps
}

type scheduleNotificationArgs struct {
	Message         string `json:"message"`
	ScheduledAt     string `json:"scheduled_at"`
	Type            string `json:"type"`
	Priority        string `json:"priority"`
	RelatedTaskID   string `json:"related_task_id"`
	RelatedQuestion string `json:"related_question_id"`
	Context         string `json:"context"`
}

func (t *ScheduleNotificationTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "schedule_notification",
			Description: "Schedule a notification to be delivered at a future time. Accepts ISO datetimes or natural phrases like 'in 2 hours' or 'tomorrow 9am'.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The notification text to deliver",
					},
					"scheduled_at": map[string]any{
						"type":        "string",
						"description": "When to deliver: ISO datetime, 'in N hours/minutes', 'tomorrow 9am'",
					},
					"type": map[string]any{
						"type": "string",
						"enum": []string{"reminder", "deadline_alert", "progress_check", "blocker_followup", "question_reminder"},
					},
					"priority": map[string]any{
						"type": "string",
						"enum": []string{"low", "medium", "high"},
					},
					"related_task_id":     map[string]any{"type": "string"},
					"related_question_id": map[string]any{"type": "string"},
					"context":             map[string]any{"type": "string"},
				},
				"required": []string{"message", "scheduled_at"},
			},
		},
	}
}

func (t *ScheduleNotificationTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in scheduleNotificationArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Message) == "" {
		return "Error: message is required", nil
	}
	if strings.TrimSpace(in.ScheduledAt) == "" {
		return "Error: scheduled_at is required", nil
	}

	now := t.Deps.now()
	when, err := timeparse.Parse(in.ScheduledAt, now)
	if err != nil {
		return fmt.Sprintf("Error: could not parse scheduled_at %q: %v", in.ScheduledAt, err), nil
	}

	if in.Type == "" {
		in.Type = "reminder"
	}
	if in.Priority == "" {
		in.Priority = dashboard.PriorityMedium
	}

	n := dashboard.Notification{
		ID:              dashboard.NewID("n"),
		Message:         in.Message,
		ScheduledAt:     timeparse.Format(when),
		Type:            in.Type,
		Priority:        in.Priority,
		RelatedTaskID:   in.RelatedTaskID,
		RelatedQuestion: in.RelatedQuestion,
		Status:          dashboard.StatusPending,
		CreatedAt:       timeparse.Format(now),
		Context:         in.Context,
		CreatedBy:       t.Deps.createdBy(),
	}
	if !timeparse.IsAbsolute(in.ScheduledAt) {
		n.ScheduledAtText = in.ScheduledAt
	}

	job, err := t.Deps.Jobs.AddJob(
		"notify "+n.ID,
		sched.AtSchedule(when),
		sched.Payload{Kind: "notify", NotificationID: n.ID, Channel: t.Deps.Channel, ChatID: t.Deps.ChatID},
		true,
	)
	if err != nil {
		return fmt.Sprintf("Error: could not arm timer: %v", err), nil
	}
	n.SchedulerJobID = job.ID

	saveErr := t.Deps.Store.Locked(func() error {
		f := t.Deps.Store.LoadNotifications()
		f.Notifications = append(f.Notifications, n)
		return t.Deps.Store.SaveNotifications(f)
	})
	if saveErr != nil {
		// Compensating rollback: a timer without a ledger entry would fire
		// into nothing.
		t.Deps.Jobs.RemoveJob(job.ID)
		return fmt.Sprintf("Error: could not save notification: %v", saveErr), nil
	}

	return prettyJSON(map[string]any{
		"scheduled":    true,
		"notification": n,
	})
}

type UpdateNotificationTool struct {
	Deps NotificationDeps
}

type updateNotificationArgs struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	ScheduledAt string `json:"scheduled_at"`
	Priority    string `json:"priority"`
	Context     string `json:"context"`
}

func (t *UpdateNotificationTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "update_notification",
			Description: "Update a pending notification's message, time, priority, or context. Rescheduling replaces the armed timer.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":           map[string]any{"type": "string"},
					"message":      map[string]any{"type": "string"},
					"scheduled_at": map[string]any{"type": "string"},
					"priority": map[string]any{
						"type": "string",
						"enum": []string{"low", "medium", "high"},
					},
					"context": map[string]any{"type": "string"},
				},
				"required": []string{"id"},
			},
		},
	}
}

func (t *UpdateNotificationTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in updateNotificationArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return "Error: id is required", nil
	}

	now := t.Deps.now()
	var when time.Time
	reschedule := strings.TrimSpace(in.ScheduledAt) != ""
	if reschedule {
		parsed, err := timeparse.Parse(in.ScheduledAt, now)
		if err != nil {
			return fmt.Sprintf("Error: could not parse scheduled_at %q: %v", in.ScheduledAt, err), nil
		}
		when = parsed
	}

	current, idx := t.Deps.Store.FindNotification(id)
	if idx < 0 {
		return fmt.Sprintf("Error: notification %s not found", id), nil
	}
	if current.Status != dashboard.StatusPending {
		return fmt.Sprintf("Error: notification %s is %s and can no longer be updated", id, current.Status), nil
	}

	// Rescheduling replaces the job: arm the new timer first so a save
	// failure can roll it back and leave the old one in place.
	var newJob sched.Job
	oldJobID := current.SchedulerJobID
	if reschedule {
		job, err := t.Deps.Jobs.AddJob(
			"notify "+id,
			sched.AtSchedule(when),
			sched.Payload{Kind: "notify", NotificationID: id, Channel: t.Deps.Channel, ChatID: t.Deps.ChatID},
			true,
		)
		if err != nil {
			return fmt.Sprintf("Error: could not arm timer: %v", err), nil
		}
		newJob = job
	}

	var updated dashboard.Notification
	saveErr := t.Deps.Store.Locked(func() error {
		f := t.Deps.Store.LoadNotifications()
		for i := range f.Notifications {
			n := &f.Notifications[i]
			if n.ID != id {
				continue
			}
			if n.Status != dashboard.StatusPending {
				return fmt.Errorf("notification %s is %s", id, n.Status)
			}
			if in.Message != "" {
				n.Message = in.Message
			}
			if in.Priority != "" {
				n.Priority = in.Priority
			}
			if in.Context != "" {
				n.Context = in.Context
			}
			if reschedule {
				n.ScheduledAt = timeparse.Format(when)
				n.ScheduledAtText = ""
				if !timeparse.IsAbsolute(in.ScheduledAt) {
					n.ScheduledAtText = in.ScheduledAt
				}
				n.SchedulerJobID = newJob.ID
			}
			updated = *n
			return t.Deps.Store.SaveNotifications(f)
		}
		return fmt.Errorf("notification %s not found", id)
	})
	if saveErr != nil {
		if reschedule {
			t.Deps.Jobs.RemoveJob(newJob.ID)
		}
		return fmt.Sprintf("Error: could not update notification: %v", saveErr), nil
	}
	if reschedule {
		t.Deps.Jobs.RemoveJob(oldJobID)
	}

	return prettyJSON(map[string]any{
		"updated":      true,
		"notification": updated,
	})
}

type CancelNotificationTool struct {
	Deps NotificationDeps
}

type cancelNotificationArgs struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (t *CancelNotificationTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "cancel_notification",
			Description: "Cancel a pending notification. Cancelling an already-cancelled notification is a no-op.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":     map[string]any{"type": "string"},
					"reason": map[string]any{"type": "string"},
				},
				"required": []string{"id"},
			},
		},
	}
}

func (t *CancelNotificationTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in cancelNotificationArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return "Error: id is required", nil
	}

	current, idx := t.Deps.Store.FindNotification(id)
	if idx < 0 {
		return fmt.Sprintf("Error: notification %s not found", id), nil
	}
	switch current.Status {
	case dashboard.StatusDelivered:
		return fmt.Sprintf("Error: notification %s was already delivered and cannot be cancelled", id), nil
	case dashboard.StatusCancelled:
		return prettyJSON(map[string]any{
			"cancelled":         true,
			"already_cancelled": true,
			"id":                id,
		})
	}

	// Best-effort: the re-fetch on fire is the real cancellation guard, so
	// a lost removal here cannot cause a delivery.
	if current.SchedulerJobID != "" {
		t.Deps.Jobs.RemoveJob(current.SchedulerJobID)
	}

	now := t.Deps.now()
	var cancelled dashboard.Notification
	saveErr := t.Deps.Store.Locked(func() error {
		f := t.Deps.Store.LoadNotifications()
		for i := range f.Notifications {
			n := &f.Notifications[i]
			if n.ID != id {
				continue
			}
			if n.Status == dashboard.StatusDelivered {
				return fmt.Errorf("notification %s was already delivered", id)
			}
			n.Status = dashboard.StatusCancelled
			if n.CancelledAt == "" {
				n.CancelledAt = timeparse.Format(now)
			}
			if reason := strings.TrimSpace(in.Reason); reason != "" {
				line := "Cancellation reason: " + reason
				if n.Context == "" {
					n.Context = line
				} else {
					n.Context += "\n" + line
				}
			}
			cancelled = *n
			return t.Deps.Store.SaveNotifications(f)
		}
		return fmt.Errorf("notification %s not found", id)
	})
	if saveErr != nil {
		return fmt.Sprintf("Error: could not cancel notification: %v", saveErr), nil
	}

	return prettyJSON(map[string]any{
		"cancelled":    true,
		"notification": cancelled,
	})
}

type ListNotificationsTool struct {
	Deps NotificationDeps
}

type listNotificationsArgs struct {
	Status        string `json:"status"`
	RelatedTaskID string `json:"related_task_id"`
}

func (t *ListNotificationsTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "list_notifications",
			Description: "List notifications, optionally filtered by status or related task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{
						"type": "string",
						"enum": []string{"pending", "delivered", "cancelled"},
					},
					"related_task_id": map[string]any{"type": "string"},
				},
			},
		},
	}
}

func (t *ListNotificationsTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in listNotificationsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
	}

	f := t.Deps.Store.LoadNotifications()
	out := make([]dashboard.Notification, 0, len(f.Notifications))
	for _, n := range f.Notifications {
		if in.Status != "" && n.Status != in.Status {
			continue
		}
		if in.RelatedTaskID != "" && n.RelatedTaskID != in.RelatedTaskID {
			continue
		}
		out = append(out, n)
	}

	return prettyJSON(map[string]any{
		"count":         len(out),
		"notifications": out,
	})
}
