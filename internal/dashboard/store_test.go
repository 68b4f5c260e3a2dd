package dashboard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validNotification(id string) Notification {
	return Notification{
		ID:          id,
		Message:     "Check the build",
		ScheduledAt: "2026-02-10T09:00:00",
		Type:        "reminder",
		Priority:    PriorityMedium,
		Status:      StatusPending,
		CreatedAt:   "2026-02-09T08:00:00",
		CreatedBy:   "main_agent",
	}
}

func TestStore_SaveLoadNotifications(t *testing.T) {
	store := NewStore(t.TempDir())
	f := NotificationsFile{Notifications: []Notification{validNotification("n_1")}}
	if err := store.SaveNotifications(f); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := store.LoadNotifications()
	if len(got.Notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got.Notifications))
	}
	if got.Version != FileVersion {
		t.Fatalf("version = %q", got.Version)
	}
	if got.Notifications[0].ID != "n_1" {
		t.Fatalf("id = %q", got.Notifications[0].ID)
	}
}

func TestStore_LoadMissingReturnsEmpty(t *testing.T) {
	store := NewStore(t.TempDir())
	got := store.LoadNotifications()
	if len(got.Notifications) != 0 {
		t.Fatalf("expected empty, got %d", len(got.Notifications))
	}
	if got.Version != FileVersion {
		t.Fatalf("version = %q", got.Version)
	}
}

func TestStore_LoadCorruptReturnsEmpty(t *testing.T) {
	ws := t.TempDir()
	store := NewStore(ws)
	path := filepath.Join(ws, "dashboard", "notifications.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{garbage:["), 0o644); err != nil {
		t.Fatal(err)
	}

	got := store.LoadNotifications()
	if len(got.Notifications) != 0 {
		t.Fatalf("expected empty on corrupt file, got %d", len(got.Notifications))
	}

	// The next save restores valid structure.
	if err := store.SaveNotifications(NotificationsFile{Notifications: []Notification{validNotification("n_2")}}); err != nil {
		t.Fatalf("save after corrupt: %v", err)
	}
	got = store.LoadNotifications()
	if len(got.Notifications) != 1 {
		t.Fatalf("expected 1 after recovery save, got %d", len(got.Notifications))
	}
}

func TestStore_SaveRejectsInvalidEntry(t *testing.T) {
	store := NewStore(t.TempDir())
	bad := validNotification("n_bad")
	bad.Priority = "urgent"
	err := store.SaveNotifications(NotificationsFile{Notifications: []Notification{bad}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "priority") {
		t.Fatalf("error should name the bad field: %v", err)
	}
	// Nothing was written.
	if _, statErr := os.Stat(filepath.Join(store.Dir(), "notifications.json")); !os.IsNotExist(statErr) {
		t.Fatalf("file should not exist after rejected save")
	}
}

func TestValidateNotifications_Fields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Notification)
	}{
		{"missing id", func(n *Notification) { n.ID = "" }},
		{"missing message", func(n *Notification) { n.Message = "" }},
		{"bad scheduled_at", func(n *Notification) { n.ScheduledAt = "next week sometime" }},
		{"bad type", func(n *Notification) { n.Type = "nudge" }},
		{"bad status", func(n *Notification) { n.Status = "archived" }},
		{"bad created_by", func(n *Notification) { n.CreatedBy = "cron" }},
		{"missing created_at", func(n *Notification) { n.CreatedAt = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := validNotification("n_x")
			tc.mutate(&n)
			if err := ValidateNotifications(NotificationsFile{Notifications: []Notification{n}}); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFindNotification(t *testing.T) {
	store := NewStore(t.TempDir())
	f := NotificationsFile{Notifications: []Notification{validNotification("n_a"), validNotification("n_b")}}
	if err := store.SaveNotifications(f); err != nil {
		t.Fatal(err)
	}
	n, idx := store.FindNotification("n_b")
	if idx != 1 || n.ID != "n_b" {
		t.Fatalf("got idx=%d id=%q", idx, n.ID)
	}
	_, idx = store.FindNotification("n_missing")
	if idx != -1 {
		t.Fatalf("expected -1 for missing id, got %d", idx)
	}
}

func TestNewID(t *testing.T) {
	id := NewID("n")
	if !strings.HasPrefix(id, "n_") || len(id) != 10 {
		t.Fatalf("unexpected id shape: %q", id)
	}
	if id == NewID("n") {
		t.Fatalf("ids should be unique")
	}
}

func TestStore_TasksRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	f := TasksFile{Tasks: []Task{{
		ID:        "task_1",
		Title:     "Write blog post",
		Status:    TaskStatusInProgress,
		Priority:  PriorityHigh,
		Deadline:  "2026-02-12T18:00:00",
		CreatedAt: "2026-02-09T08:00:00",
		UpdatedAt: "2026-02-09T08:00:00",
	}}}
	if err := store.SaveTasks(f); err != nil {
		t.Fatalf("save tasks: %v", err)
	}
	got := store.LoadTasks()
	if len(got.Tasks) != 1 || got.Tasks[0].Title != "Write blog post" {
		t.Fatalf("unexpected tasks: %+v", got.Tasks)
	}
}
