// Package dashboard owns the JSON-backed ledgers under
// workspace/dashboard/: notifications, tasks, questions and history.
// Loads tolerate missing or corrupt files by returning the empty structure;
// saves validate first and replace the file atomically, so the ledger is
// either the previous valid state or the next one, never in between.
package dashboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"minder/internal/util"
)

type Store struct {
	dir string

	// Guards read-modify-write sequences across tool calls and the worker
	// tick. In-process and advisory only; the file itself is replaced
	// atomically regardless.
	mu sync.Mutex
}

func NewStore(workspace string) *Store {
	return &Store{dir: filepath.Join(strings.TrimSpace(workspace), "dashboard")}
}

func (s *Store) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Locked runs fn while holding the store mutex. Every tool-level
// read-modify-write sequence goes through here so two concurrent callers
// cannot interleave a load with another caller's save and lose an update.
func (s *Store) Locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) LoadNotifications() NotificationsFile {
	var out NotificationsFile
	if err := loadJSONFile(filepath.Join(s.dir, "notifications.json"), &out); err != nil {
		out = NotificationsFile{}
	}
	if out.Version == "" {
		out.Version = FileVersion
	}
	return out
}

func (s *Store) SaveNotifications(f NotificationsFile) error {
	f.Version = FileVersion
	if err := ValidateNotifications(f); err != nil {
		return fmt.Errorf("validate notifications: %w", err)
	}
	return util.WriteJSONAtomic(filepath.Join(s.dir, "notifications.json"), f)
}

// FindNotification returns the entry with the given id and its index, or
// (zero, -1) when absent.
func (s *Store) FindNotification(id string) (Notification, int) {
	f := s.LoadNotifications()
	return findNotification(f.Notifications, id)
}

func findNotification(list []Notification, id string) (Notification, int) {
	want := strings.TrimSpace(id)
	for i, n := range list {
		if n.ID == want {
			return n, i
		}
	}
	return Notification{}, -1
}

func (s *Store) LoadTasks() TasksFile {
	var out TasksFile
	if err := loadJSONFile(filepath.Join(s.dir, "tasks.json"), &out); err != nil {
		out = TasksFile{}
	}
	if out.Version == "" {
		out.Version = FileVersion
	}
	return out
}

func (s *Store) SaveTasks(f TasksFile) error {
	f.Version = FileVersion
	if err := ValidateTasks(f); err != nil {
		return fmt.Errorf("validate tasks: %w", err)
	}
	return util.WriteJSONAtomic(filepath.Join(s.dir, "tasks.json"), f)
}

func (s *Store) LoadQuestions() QuestionsFile {
	var out QuestionsFile
	if err := loadJSONFile(filepath.Join(s.dir, "questions.json"), &out); err != nil {
		out = QuestionsFile{}
	}
	if out.Version == "" {
		out.Version = FileVersion
	}
	return out
}

func (s *Store) SaveQuestions(f QuestionsFile) error {
	f.Version = FileVersion
	if err := ValidateQuestions(f); err != nil {
		return fmt.Errorf("validate questions: %w", err)
	}
	return util.WriteJSONAtomic(filepath.Join(s.dir, "questions.json"), f)
}

func (s *Store) LoadHistory() HistoryFile {
	var out HistoryFile
	if err := loadJSONFile(filepath.Join(s.dir, "history.json"), &out); err != nil {
		out = HistoryFile{}
	}
	if out.Version == "" {
		out.Version = FileVersion
	}
	return out
}

func (s *Store) SaveHistory(f HistoryFile) error {
	f.Version = FileVersion
	return util.WriteJSONAtomic(filepath.Join(s.dir, "history.json"), f)
}

// loadJSONFile decodes path into out. Missing files and corrupt content are
// reported so callers can fall back to the empty structure; a corrupt ledger
// must never crash the caller, and the next successful save restores valid
// structure.
func loadJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// NewID generates a prefixed short id like "n_3f2a91bc".
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:8]
}
