// Package worker runs periodic dashboard maintenance: overdue deadlines,
// stalled tasks, and unanswered questions each produce a scheduled
// notification through the same tool path the agent uses.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"minder/internal/dashboard"
	"minder/internal/timeparse"
	"minder/internal/tools"
)

type Maintenance struct {
	Store    *dashboard.Store
	Schedule *tools.ScheduleNotificationTool

	// StaleAfter is how long a non-terminal task may sit without an update
	// before a progress check is scheduled.
	StaleAfter time.Duration

	// RemindQuestionsAfter is how long a question may stay open before the
	// user gets a reminder.
	RemindQuestionsAfter time.Duration

	Now func() time.Time
	Log *slog.Logger
}

func NewMaintenance(store *dashboard.Store, schedule *tools.ScheduleNotificationTool) *Maintenance {
	return &Maintenance{
		Store:                store,
		Schedule:             schedule,
		StaleAfter:           72 * time.Hour,
		RemindQuestionsAfter: 48 * time.Hour,
		Now:                  time.Now,
		Log:                  slog.Default().With("component", "worker"),
	}
}

type scheduleRequest struct {
	Message         string `json:"message"`
	ScheduledAt     string `json:"scheduled_at"`
	Type            string `json:"type"`
	Priority        string `json:"priority"`
	RelatedTaskID   string `json:"related_task_id,omitempty"`
	RelatedQuestion string `json:"related_question_id,omitempty"`
	Context         string `json:"context,omitempty"`
}

// Run executes one maintenance pass and returns how many notifications it
// scheduled. Scheduling goes through the regular tool so the ledger and the
// timer stay consistent; a pending notification already tied to the same
// task or question suppresses a new one.
func (m *Maintenance) Run(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := m.Now()

	var tasksFile dashboard.TasksFile
	var questionsFile dashboard.QuestionsFile
	var pending []dashboard.Notification
	err := m.Store.Locked(func() error {
		tasksFile = m.Store.LoadTasks()
		questionsFile = m.Store.LoadQuestions()
		for _, n := range m.Store.LoadNotifications().Notifications {
			if n.Status == dashboard.StatusPending {
				pending = append(pending, n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, task := range tasksFile.Tasks {
		if task.Status == dashboard.TaskStatusDone {
			continue
		}

		if task.Deadline != "" && !hasPendingFor(pending, "deadline_alert", task.ID, "") {
			deadline, err := timeparse.Parse(task.Deadline, now)
			if err == nil && deadline.Before(now) {
				if m.schedule(ctx, scheduleRequest{
					Message:       fmt.Sprintf("Deadline passed for task %q (was due %s).", task.Title, task.Deadline),
					ScheduledAt:   timeparse.Format(now),
					Type:          "deadline_alert",
					Priority:      dashboard.PriorityHigh,
					RelatedTaskID: task.ID,
					Context:       "Created by the maintenance pass after the deadline elapsed without the task being done.",
				}) {
					created++
				}
				continue
			}
		}

		if m.isStale(task, now) && !hasPendingFor(pending, "progress_check", task.ID, "") {
			if m.schedule(ctx, scheduleRequest{
				Message:       fmt.Sprintf("How is task %q going? No updates for a while.", task.Title),
				ScheduledAt:   timeparse.Format(now),
				Type:          "progress_check",
				Priority:      dashboard.PriorityMedium,
				RelatedTaskID: task.ID,
			}) {
				created++
			}
		}
	}

	for _, q := range questionsFile.Questions {
		if q.Status != dashboard.QuestionStatusOpen {
			continue
		}
		if hasPendingFor(pending, "question_reminder", "", q.ID) {
			continue
		}
		asked, err := timeparse.Parse(q.CreatedAt, now)
		if err != nil || now.Sub(asked) < m.RemindQuestionsAfter {
			continue
		}
		if m.schedule(ctx, scheduleRequest{
			Message:         fmt.Sprintf("Still waiting on an answer: %s", q.Question),
			ScheduledAt:     timeparse.Format(now),
			Type:            "question_reminder",
			Priority:        dashboard.PriorityLow,
			RelatedQuestion: q.ID,
		}) {
			created++
		}
	}

	if created > 0 {
		m.Log.Info("maintenance pass scheduled notifications", "count", created)
	}
	return created, nil
}

func (m *Maintenance) isStale(task dashboard.Task, now time.Time) bool {
	if task.Status != dashboard.TaskStatusInProgress && task.Status != dashboard.TaskStatusBlocked {
		return false
	}
	stamp := task.UpdatedAt
	if stamp == "" {
		stamp = task.CreatedAt
	}
	updated, err := timeparse.Parse(stamp, now)
	if err != nil {
		return false
	}
	return now.Sub(updated) >= m.StaleAfter
}

func (m *Maintenance) schedule(ctx context.Context, req scheduleRequest) bool {
	args, err := json.Marshal(req)
	if err != nil {
		m.Log.Warn("marshal schedule request failed", "error", err)
		return false
	}
	result, err := m.Schedule.Call(ctx, args)
	if err != nil {
		m.Log.Warn("schedule_notification failed", "type", req.Type, "error", err)
		return false
	}
	if strings.HasPrefix(result, "Error:") {
		m.Log.Warn("schedule_notification rejected", "type", req.Type, "result", result)
		return false
	}
	return true
}

func hasPendingFor(pending []dashboard.Notification, notifType, taskID, questionID string) bool {
	for _, n := range pending {
		if n.Type != notifType {
			continue
		}
		if taskID != "" && n.RelatedTaskID == taskID {
			return true
		}
		if questionID != "" && n.RelatedQuestion == questionID {
			return true
		}
	}
	return false
}
