package sched

import "time"

const StoreVersion = 1

type Store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Job is an armed unit of work. The scheduler owns the job lifecycle;
// other subsystems hold at most the job id as a weak reference.
type Job struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Schedule Schedule `json:"schedule"`
	Payload  Payload  `json:"payload"`

	// DeleteAfterRun removes the job after its first fire, regardless of
	// dispatch outcome, so a failing payload cannot refire forever.
	DeleteAfterRun bool `json:"delete_after_run,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	NextRunAt time.Time `json:"next_run_at,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Schedule struct {
	Type  string    `json:"type"` // at|cron|every
	At    time.Time `json:"at,omitempty"`
	Expr  string    `json:"expr,omitempty"`
	Every string    `json:"every,omitempty"`
}

// Payload describes what to execute on fire: deliver a message for a
// notification to a channel/chat. The scheduler never interprets it; the
// registered dispatch function does.
type Payload struct {
	Kind           string `json:"kind"` // notify|worker
	NotificationID string `json:"notification_id,omitempty"`
	Channel        string `json:"channel,omitempty"`
	ChatID         string `json:"chat_id,omitempty"`
}

func AtSchedule(t time.Time) Schedule {
	return Schedule{Type: "at", At: t}
}

func CronSchedule(expr string) Schedule {
	return Schedule{Type: "cron", Expr: expr}
}

func EverySchedule(every string) Schedule {
	return Schedule{Type: "every", Every: every}
}
