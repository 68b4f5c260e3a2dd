package sched

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T, now *time.Time) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	return NewService(path, Options{
		MaxTimerDelay: 30 * time.Second,
		Now:           func() time.Time { return *now },
	})
}

func TestAddJobPersistsAcrossRestart(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)

	job, err := svc.AddJob("reminder", AtSchedule(now.Add(time.Hour)), Payload{Kind: "notify", NotificationID: "notif_123"}, true)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("AddJob returned empty id")
	}
	if !job.NextRunAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("NextRunAt = %v, want %v", job.NextRunAt, now.Add(time.Hour))
	}

	reopened := NewService(svc.path, Options{Now: func() time.Time { return now }})
	jobs := reopened.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("after reopen: %d jobs, want 1", len(jobs))
	}
	if jobs[0].ID != job.ID || jobs[0].Payload.NotificationID != "notif_123" {
		t.Fatalf("reopened job = %+v", jobs[0])
	}
}

func TestTickDispatchesAndRemovesOneShot(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)

	var mu sync.Mutex
	var fired []string
	svc.SetDispatch(func(ctx context.Context, job Job) error {
		mu.Lock()
		fired = append(fired, job.Payload.NotificationID)
		mu.Unlock()
		return nil
	})

	if _, err := svc.AddJob("a", AtSchedule(now.Add(time.Minute)), Payload{Kind: "notify", NotificationID: "notif_a"}, true); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	// Not due yet.
	delay := svc.tick(context.Background(), now)
	if len(fired) != 0 {
		t.Fatalf("fired early: %v", fired)
	}
	if delay <= 0 || delay > time.Minute {
		t.Fatalf("delay before due = %v", delay)
	}

	now = now.Add(2 * time.Minute)
	svc.tick(context.Background(), now)
	if len(fired) != 1 || fired[0] != "notif_a" {
		t.Fatalf("fired = %v, want [notif_a]", fired)
	}
	if jobs := svc.ListJobs(); len(jobs) != 0 {
		t.Fatalf("one-shot job still armed: %+v", jobs)
	}
}

func TestOneShotRemovedEvenWhenDispatchFails(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)
	calls := 0
	svc.SetDispatch(func(ctx context.Context, job Job) error {
		calls++
		return errors.New("send failed")
	})

	if _, err := svc.AddJob("a", AtSchedule(now.Add(-time.Minute)), Payload{Kind: "notify", NotificationID: "notif_a"}, true); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	svc.tick(context.Background(), now)
	svc.tick(context.Background(), now)
	if calls != 1 {
		t.Fatalf("dispatch calls = %d, want 1", calls)
	}
	if jobs := svc.ListJobs(); len(jobs) != 0 {
		t.Fatalf("failed one-shot refired: %+v", jobs)
	}
}

func TestRecurringJobReArmsAndRecordsError(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)
	svc.SetDispatch(func(ctx context.Context, job Job) error {
		return errors.New("worker cycle failed")
	})

	if _, err := svc.AddJob("maintenance", EverySchedule("10m"), Payload{Kind: "worker"}, false); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	now = now.Add(11 * time.Minute)
	svc.tick(context.Background(), now)

	jobs := svc.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("recurring job count = %d, want 1", len(jobs))
	}
	got := jobs[0]
	if !got.LastRunAt.Equal(now) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, now)
	}
	if got.LastError != "worker cycle failed" {
		t.Fatalf("LastError = %q", got.LastError)
	}
	if !got.NextRunAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, now.Add(10*time.Minute))
	}
}

func TestAtJobNeverReArms(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)
	svc.SetDispatch(func(ctx context.Context, job Job) error { return nil })

	// delete_after_run false, but "at" is still one-shot.
	if _, err := svc.AddJob("a", AtSchedule(now.Add(-time.Minute)), Payload{Kind: "notify"}, false); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	svc.tick(context.Background(), now)
	if jobs := svc.ListJobs(); len(jobs) != 0 {
		t.Fatalf("at job re-armed: %+v", jobs)
	}
}

func TestRemoveJobIdempotent(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)

	job, err := svc.AddJob("a", AtSchedule(now.Add(time.Hour)), Payload{Kind: "notify"}, true)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if !svc.RemoveJob(job.ID) {
		t.Fatalf("first RemoveJob returned false")
	}
	if svc.RemoveJob(job.ID) {
		t.Fatalf("second RemoveJob returned true")
	}
	if svc.RemoveJob("job-does-not-exist") {
		t.Fatalf("RemoveJob of unknown id returned true")
	}
}

func TestDispatchPanicDoesNotKillTick(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)
	svc.SetDispatch(func(ctx context.Context, job Job) error {
		panic("boom")
	})

	if _, err := svc.AddJob("a", AtSchedule(now.Add(-time.Minute)), Payload{Kind: "notify"}, true); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	svc.tick(context.Background(), now)
	if jobs := svc.ListJobs(); len(jobs) != 0 {
		t.Fatalf("panicking one-shot left armed: %+v", jobs)
	}
}

func TestCorruptJobsFileRecovers(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)
	svc := newTestService(t, &now)
	if err := os.WriteFile(svc.path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if jobs := svc.ListJobs(); len(jobs) != 0 {
		t.Fatalf("corrupt file yielded jobs: %+v", jobs)
	}
	if _, err := svc.AddJob("a", AtSchedule(now.Add(time.Hour)), Payload{Kind: "notify"}, true); err != nil {
		t.Fatalf("AddJob after corruption: %v", err)
	}
	if jobs := svc.ListJobs(); len(jobs) != 1 {
		t.Fatalf("job count after recovery = %d, want 1", len(jobs))
	}
}

func TestNextRunAtSchedules(t *testing.T) {
	now := time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)

	at, err := NextRunAt(AtSchedule(now.Add(-time.Hour)), now, 2*time.Second)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if !at.Equal(now.Add(-time.Hour)) {
		t.Fatalf("overdue at schedule = %v, want the original timestamp", at)
	}

	every, err := NextRunAt(EverySchedule("30m"), now, 2*time.Second)
	if err != nil {
		t.Fatalf("every: %v", err)
	}
	if !every.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("every = %v", every)
	}

	cronNext, err := NextRunAt(CronSchedule("0 9 * * *"), now, 2*time.Second)
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	want := time.Date(2026, 2, 10, 9, 0, 0, 0, time.Local)
	if !cronNext.Equal(want) {
		t.Fatalf("cron next = %v, want %v", cronNext, want)
	}

	if _, err := NextRunAt(Schedule{Type: "bogus"}, now, 0); err == nil {
		t.Fatalf("bogus schedule type accepted")
	}
	if _, err := NextRunAt(EverySchedule("not-a-duration"), now, 0); err == nil {
		t.Fatalf("bad duration accepted")
	}
}
