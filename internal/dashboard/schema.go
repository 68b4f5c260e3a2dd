package dashboard

import (
	"fmt"
	"strings"

	"minder/internal/timeparse"
)

const FileVersion = "1.0"

// Notification is one scheduled reminder in the ledger. Timestamps are naive
// local ISO strings (timeparse.Layout); status transition is the only
// lifecycle exit, entries are never physically deleted.
type Notification struct {
	ID              string `json:"id"`
	Message         string `json:"message"`
	ScheduledAt     string `json:"scheduled_at"`
	ScheduledAtText string `json:"scheduled_at_text,omitempty"`
	Type            string `json:"type"`
	Priority        string `json:"priority"`
	RelatedTaskID   string `json:"related_task_id,omitempty"`
	RelatedQuestion string `json:"related_question_id,omitempty"`
	Status          string `json:"status"`
	SchedulerJobID  string `json:"scheduler_job_id,omitempty"`
	CalendarEventID string `json:"calendar_event_id,omitempty"`
	CreatedAt       string `json:"created_at"`
	DeliveredAt     string `json:"delivered_at,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	Context         string `json:"context,omitempty"`
	CreatedBy       string `json:"created_by"`
}

const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

var notificationTypes = map[string]bool{
	"reminder":          true,
	"deadline_alert":    true,
	"progress_check":    true,
	"blocker_followup":  true,
	"question_reminder": true,
}

var priorities = map[string]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
}

var statuses = map[string]bool{
	StatusPending:   true,
	StatusDelivered: true,
	StatusCancelled: true,
}

var creators = map[string]bool{
	"worker":     true,
	"user":       true,
	"main_agent": true,
}

type NotificationsFile struct {
	Version       string         `json:"version"`
	Notifications []Notification `json:"notifications"`
}

// Task is a dashboard task entry.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Deadline     string   `json:"deadline,omitempty"`
	ProgressNote string   `json:"progress_note,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusBlocked    = "blocked"
	TaskStatusDone       = "done"
)

var taskStatuses = map[string]bool{
	TaskStatusTodo:       true,
	TaskStatusInProgress: true,
	TaskStatusBlocked:    true,
	TaskStatusDone:       true,
}

type TasksFile struct {
	Version string `json:"version"`
	Tasks   []Task `json:"tasks"`
}

// Question is an open question waiting for the user's answer.
type Question struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Context       string `json:"context,omitempty"`
	Status        string `json:"status"`
	Answer        string `json:"answer,omitempty"`
	RelatedTaskID string `json:"related_task_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	AnsweredAt    string `json:"answered_at,omitempty"`
}

const (
	QuestionStatusOpen     = "open"
	QuestionStatusAnswered = "answered"
	QuestionStatusRemoved  = "removed"
)

var questionStatuses = map[string]bool{
	QuestionStatusOpen:     true,
	QuestionStatusAnswered: true,
	QuestionStatusRemoved:  true,
}

type QuestionsFile struct {
	Version   string     `json:"version"`
	Questions []Question `json:"questions"`
}

// CompletedTask is an archived task in history.json.
type CompletedTask struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CompletedAt  string `json:"completed_at"`
	DurationDays int    `json:"duration_days"`
	ProgressNote string `json:"progress_note,omitempty"`
	MovedAt      string `json:"moved_at"`
}

type HistoryFile struct {
	Version        string          `json:"version"`
	CompletedTasks []CompletedTask `json:"completed_tasks"`
}

// ValidateNotifications checks every entry before a write; a failed check
// rejects the whole save so no partial state is ever persisted.
func ValidateNotifications(f NotificationsFile) error {
	for i, n := range f.Notifications {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("notification %d: id is required", i)
		}
		if strings.TrimSpace(n.Message) == "" {
			return fmt.Errorf("notification %s: message is required", n.ID)
		}
		if !timeparse.IsAbsolute(n.ScheduledAt) {
			return fmt.Errorf("notification %s: scheduled_at %q is not an ISO datetime", n.ID, n.ScheduledAt)
		}
		if !notificationTypes[n.Type] {
			return fmt.Errorf("notification %s: unknown type %q", n.ID, n.Type)
		}
		if !priorities[n.Priority] {
			return fmt.Errorf("notification %s: unknown priority %q", n.ID, n.Priority)
		}
		if !statuses[n.Status] {
			return fmt.Errorf("notification %s: unknown status %q", n.ID, n.Status)
		}
		if !creators[n.CreatedBy] {
			return fmt.Errorf("notification %s: unknown created_by %q", n.ID, n.CreatedBy)
		}
		if strings.TrimSpace(n.CreatedAt) == "" {
			return fmt.Errorf("notification %s: created_at is required", n.ID)
		}
	}
	return nil
}

func ValidateTasks(f TasksFile) error {
	for i, task := range f.Tasks {
		if strings.TrimSpace(task.ID) == "" {
			return fmt.Errorf("task %d: id is required", i)
		}
		if strings.TrimSpace(task.Title) == "" {
			return fmt.Errorf("task %s: title is required", task.ID)
		}
		if !taskStatuses[task.Status] {
			return fmt.Errorf("task %s: unknown status %q", task.ID, task.Status)
		}
		if !priorities[task.Priority] {
			return fmt.Errorf("task %s: unknown priority %q", task.ID, task.Priority)
		}
	}
	return nil
}

func ValidateQuestions(f QuestionsFile) error {
	for i, q := range f.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return fmt.Errorf("question %d: id is required", i)
		}
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %s: question text is required", q.ID)
		}
		if !questionStatuses[q.Status] {
			return fmt.Errorf("question %s: unknown status %q", q.ID, q.Status)
		}
	}
	return nil
}
