package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"minder/internal/dashboard"
	"minder/internal/sched"
	"minder/internal/timeparse"
)

type sentMsg struct {
	channel string
	chatID  string
	text    string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	fail bool
}

func (f *fakeSender) send(ctx context.Context, channelName, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("network unreachable")
	}
	f.sent = append(f.sent, sentMsg{channel: channelName, chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeJobs struct {
	jobs map[string]sched.Job
	seq  int
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: make(map[string]sched.Job)} }

func (f *fakeJobs) AddJob(name string, schedule sched.Schedule, payload sched.Payload, deleteAfterRun bool) (sched.Job, error) {
	f.seq++
	job := sched.Job{
		ID:             fmt.Sprintf("job-%d", f.seq),
		Name:           name,
		Schedule:       schedule,
		Payload:        payload,
		DeleteAfterRun: deleteAfterRun,
		NextRunAt:      schedule.At,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) GetJob(id string) (sched.Job, bool) {
	job, ok := f.jobs[id]
	return job, ok
}

func (f *fakeJobs) RemoveJob(id string) bool {
	_, ok := f.jobs[id]
	delete(f.jobs, id)
	return ok
}

type fakeCalendar struct {
	seq     int
	created map[string]string // event id -> summary
	deleted []string
}

func newFakeCalendar() *fakeCalendar { return &fakeCalendar{created: make(map[string]string)} }

func (f *fakeCalendar) CreateEvent(ctx context.Context, summary, startISO, description string) (string, error) {
	f.seq++
	id := fmt.Sprintf("evt-%d", f.seq)
	f.created[id] = summary
	return id, nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return nil
}

func pendingNotification(id string, scheduledAt, createdAt time.Time) dashboard.Notification {
	return dashboard.Notification{
		ID:          id,
		Message:     "message for " + id,
		ScheduledAt: timeparse.Format(scheduledAt),
		Type:        "reminder",
		Priority:    dashboard.PriorityMedium,
		Status:      dashboard.StatusPending,
		CreatedAt:   timeparse.Format(createdAt),
		CreatedBy:   "main_agent",
	}
}

func seedStore(t *testing.T, notifs ...dashboard.Notification) *dashboard.Store {
	t.Helper()
	store := dashboard.NewStore(t.TempDir())
	f := store.LoadNotifications()
	f.Notifications = append(f.Notifications, notifs...)
	if err := store.SaveNotifications(f); err != nil {
		t.Fatalf("seed notifications: %v", err)
	}
	return store
}

func newTestReconciler(store *dashboard.Store, policy *Policy, sender *fakeSender, now time.Time, opts ReconcilerOptions) *Reconciler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return now }
	}
	if opts.DefaultChatID == "" {
		opts.DefaultChatID = "chat-1"
	}
	return NewReconciler(store, policy, sender.send, opts)
}

func TestDeliverMarksDeliveredExactlyOnce(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.Local)
	store := seedStore(t, pendingNotification("n_1", now.Add(-time.Minute), now.Add(-time.Hour)))
	sender := &fakeSender{}
	r := newTestReconciler(store, NewPolicy(DefaultPolicyConfig()), sender, now, ReconcilerOptions{})

	if err := r.Deliver(context.Background(), "n_1", "", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("sends = %d, want 1", sender.count())
	}
	n, _ := store.FindNotification("n_1")
	if n.Status != dashboard.StatusDelivered {
		t.Fatalf("status = %q, want delivered", n.Status)
	}
	if n.DeliveredAt != timeparse.Format(now) {
		t.Fatalf("delivered_at = %q", n.DeliveredAt)
	}

	// A second fire for the same entry is a no-op.
	if err := r.Deliver(context.Background(), "n_1", "", ""); err != nil {
		t.Fatalf("second Deliver: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("sends after refire = %d, want 1", sender.count())
	}
}

func TestDeliverStaleFireIsNoOp(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.Local)
	cancelled := pendingNotification("n_1", now.Add(-time.Minute), now.Add(-time.Hour))
	cancelled.Status = dashboard.StatusCancelled
	store := seedStore(t, cancelled)
	sender := &fakeSender{}
	r := newTestReconciler(store, NewPolicy(DefaultPolicyConfig()), sender, now, ReconcilerOptions{})

	if err := r.Deliver(context.Background(), "n_1", "", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := r.Deliver(context.Background(), "n_missing", "", ""); err != nil {
		t.Fatalf("Deliver unknown id: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("sends = %d, want 0", sender.count())
	}
	n, _ := store.FindNotification("n_1")
	if n.Status != dashboard.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", n.Status)
	}
}

func TestDeliverSendFailureLeavesPending(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.Local)
	store := seedStore(t, pendingNotification("n_1", now.Add(-time.Minute), now.Add(-time.Hour)))
	sender := &fakeSender{fail: true}
	r := newTestReconciler(store, NewPolicy(DefaultPolicyConfig()), sender, now, ReconcilerOptions{})

	if err := r.Deliver(context.Background(), "n_1", "", ""); err == nil {
		t.Fatalf("Deliver with failing sender returned nil error")
	}
	n, _ := store.FindNotification("n_1")
	if n.Status != dashboard.StatusPending || n.DeliveredAt != "" {
		t.Fatalf("entry mutated on send failure: %+v", n)
	}

	// Entry is retryable once the channel is back.
	sender.fail = false
	if err := r.Deliver(context.Background(), "n_1", "", ""); err != nil {
		t.Fatalf("retry Deliver: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("sends = %d, want 1", sender.count())
	}
}

func TestDeliverQuietHoursDefersToBatch(t *testing.T) {
	now := time.Date(2026, 2, 9, 2, 0, 0, 0, time.Local) // inside 23–08
	store := seedStore(t, pendingNotification("n_1", now.Add(-time.Minute), now.Add(-time.Hour)))
	sender := &fakeSender{}
	policy := NewPolicy(DefaultPolicyConfig())
	r := newTestReconciler(store, policy, sender, now, ReconcilerOptions{})

	if err := r.Deliver(context.Background(), "n_1", "", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("quiet-hours delivery sent anyway")
	}
	if policy.PendingBatch() != 1 {
		t.Fatalf("batch = %d, want 1", policy.PendingBatch())
	}
	n, _ := store.FindNotification("n_1")
	if n.Status != dashboard.StatusPending {
		t.Fatalf("status = %q, want pending", n.Status)
	}

	if err := r.FlushBatch(context.Background()); err != nil {
		t.Fatalf("FlushBatch: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("flush sends = %d, want 1", sender.count())
	}
	if !strings.Contains(sender.sent[0].text, "message for n_1") {
		t.Fatalf("flush text = %q", sender.sent[0].text)
	}
	n, _ = store.FindNotification("n_1")
	if n.Status != dashboard.StatusDelivered {
		t.Fatalf("status after flush = %q, want delivered", n.Status)
	}
}

func TestDeliverSuppressesDuplicate(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.Local)
	store := seedStore(t, pendingNotification("n_1", now.Add(-time.Minute), now.Add(-time.Hour)))
	sender := &fakeSender{}
	policy := NewPolicy(DefaultPolicyConfig())
	policy.RecordSent("message for n_1", now.Add(-time.Hour))
	r := newTestReconciler(store, policy, sender, now, ReconcilerOptions{})

	if err := r.Deliver(context.Background(), "n_1", "", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("duplicate was sent")
	}
	if policy.PendingBatch() != 0 {
		t.Fatalf("duplicate was batched")
	}
}

func TestReconcileReArmsAndMirrorsCalendar(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.Local)
	future := pendingNotification("n_future", now.Add(2*time.Hour), now.Add(-time.Hour))
	overdue := pendingNotification("n_overdue", now.Add(-time.Hour), now.Add(-2*time.Hour))
	done := pendingNotification("n_done", now.Add(-3*time.Hour), now.Add(-4*time.Hour))
	done.Status = dashboard.StatusDelivered
	done.DeliveredAt = timeparse.Format(now.Add(-3 * time.Hour))
	done.CalendarEventID = "evt-old"

	store := seedStore(t, future, overdue, done)
	sender := &fakeSender{}
	jobs := newFakeJobs()
	cal := newFakeCalendar()
	r := newTestReconciler(store, NewPolicy(DefaultPolicyConfig()), sender, now, ReconcilerOptions{
		Jobs:     jobs,
		Calendar: cal,
	})

	result := r.Reconcile(context.Background())

	if len(result.Due) != 1 || result.Due[0] != "n_overdue" {
		t.Fatalf("due = %v, want [n_overdue]", result.Due)
	}
	if !result.NextDueAt.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("next due = %v", result.NextDueAt)
	}
	if !result.Changed {
		t.Fatalf("result.Changed = false")
	}

	// Overdue entry went out immediately.
	if sender.count() != 1 {
		t.Fatalf("sends = %d, want 1", sender.count())
	}
	n, _ := store.FindNotification("n_overdue")
	if n.Status != dashboard.StatusDelivered {
		t.Fatalf("overdue status = %q", n.Status)
	}

	// Future entry got a fresh timer and a calendar event.
	n, _ = store.FindNotification("n_future")
	if n.SchedulerJobID == "" {
		t.Fatalf("future entry not re-armed")
	}
	job, ok := jobs.GetJob(n.SchedulerJobID)
	if !ok || !job.DeleteAfterRun || job.Payload.NotificationID != "n_future" {
		t.Fatalf("re-armed job = %+v", job)
	}
	if n.CalendarEventID == "" {
		t.Fatalf("future entry has no calendar event")
	}
	if cal.created[n.CalendarEventID] != n.Message {
		t.Fatalf("calendar summary = %q", cal.created[n.CalendarEventID])
	}

	// Delivered entry's stale event was removed.
	n, _ = store.FindNotification("n_done")
	if n.CalendarEventID != "" {
		t.Fatalf("stale calendar event not cleared")
	}
	if len(cal.deleted) == 0 || cal.deleted[0] != "evt-old" {
		t.Fatalf("deleted events = %v", cal.deleted)
	}
}

func TestReconcileKeepsExistingJob(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.Local)
	jobs := newFakeJobs()
	armed, _ := jobs.AddJob("notify n_1", sched.AtSchedule(now.Add(time.Hour)), sched.Payload{Kind: "notify", NotificationID: "n_1"}, true)

	n := pendingNotification("n_1", now.Add(time.Hour), now.Add(-time.Hour))
	n.SchedulerJobID = armed.ID
	store := seedStore(t, n)
	sender := &fakeSender{}
	r := newTestReconciler(store, NewPolicy(DefaultPolicyConfig()), sender, now, ReconcilerOptions{Jobs: jobs})

	r.Reconcile(context.Background())
	if len(jobs.jobs) != 1 {
		t.Fatalf("job count = %d, want 1 (no duplicate arm)", len(jobs.jobs))
	}
}

func TestHandleJobRejectsForeignPayload(t *testing.T) {
	now := time.Date(2026, 2, 9, 10, 0, 0, 0, time.Local)
	store := seedStore(t)
	r := newTestReconciler(store, NewPolicy(DefaultPolicyConfig()), &fakeSender{}, now, ReconcilerOptions{})

	err := r.HandleJob(context.Background(), sched.Job{Payload: sched.Payload{Kind: "worker"}})
	if err == nil {
		t.Fatalf("HandleJob accepted a worker payload")
	}
}

func TestReconcileRepeatsDoNotDuplicateBatchedEntry(t *testing.T) {
	now := time.Date(2026, 2, 9, 2, 0, 0, 0, time.Local) // inside 23–08
	store := seedStore(t, pendingNotification("n_1", now.Add(-time.Minute), now.Add(-time.Hour)))
	sender := &fakeSender{}
	policy := NewPolicy(DefaultPolicyConfig())
	r := newTestReconciler(store, policy, sender, now, ReconcilerOptions{Jobs: newFakeJobs()})

	// A heartbeat runs one pass per interval, quiet window included. Each
	// pass finds the same overdue entry and defers it again.
	r.Reconcile(context.Background())
	r.Reconcile(context.Background())

	if policy.PendingBatch() != 1 {
		t.Fatalf("batch after two passes = %d, want 1", policy.PendingBatch())
	}

	if err := r.FlushBatch(context.Background()); err != nil {
		t.Fatalf("FlushBatch: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("flush sends = %d, want 1", sender.count())
	}
	if got := strings.Count(sender.sent[0].text, "message for n_1"); got != 1 {
		t.Fatalf("message appears %d times in %q, want 1", got, sender.sent[0].text)
	}
}

func TestFlushBatchSendFailureRequeuesUnrecorded(t *testing.T) {
	now := time.Date(2026, 2, 9, 2, 0, 0, 0, time.Local)
	store := seedStore(t, pendingNotification("n_1", now.Add(-time.Minute), now.Add(-time.Hour)))
	sender := &fakeSender{fail: true}
	policy := NewPolicy(DefaultPolicyConfig())
	r := newTestReconciler(store, policy, sender, now, ReconcilerOptions{})

	if err := r.Deliver(context.Background(), "n_1", "", ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := r.FlushBatch(context.Background()); err == nil {
		t.Fatalf("expected flush error while sender is down")
	}
	if policy.PendingBatch() != 1 {
		t.Fatalf("batch after failed flush = %d, want 1", policy.PendingBatch())
	}
	// The failed attempt must not land in the dedup window.
	if got := policy.Evaluate("message for n_1", "medium", now.Add(time.Minute)); got == SuppressDup {
		t.Fatalf("failed flush entered dedup window")
	}

	sender.fail = false
	if err := r.FlushBatch(context.Background()); err != nil {
		t.Fatalf("FlushBatch retry: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("retry sends = %d, want 1", sender.count())
	}
	n, _ := store.FindNotification("n_1")
	if n.Status != dashboard.StatusDelivered {
		t.Fatalf("status after retry = %q, want delivered", n.Status)
	}
}
