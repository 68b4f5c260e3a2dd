// Package sched fires registered jobs at (or after) their wall-clock due
// time. It knows nothing about notification semantics: callers arm jobs with
// an opaque payload and the service hands due payloads to a registered
// dispatch function. Jobs persist to a JSON file so armed timers survive a
// restart.
package sched

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"minder/internal/util"
)

type DispatchFunc func(ctx context.Context, job Job) error

type Service struct {
	path string
	log  *slog.Logger

	maxTimerDelay time.Duration
	minRefireGap  time.Duration
	now           func() time.Time

	mu       sync.Mutex // guards jobs-file read-modify-write
	dispatch DispatchFunc

	wakeCh chan struct{}
	doneCh chan struct{}
}

type Options struct {
	MaxTimerDelay time.Duration
	MinRefireGap  time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

func NewService(jobsPath string, opts Options) *Service {
	if opts.MaxTimerDelay <= 0 {
		opts.MaxTimerDelay = 60 * time.Second
	}
	if opts.MinRefireGap <= 0 {
		opts.MinRefireGap = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		path:          strings.TrimSpace(jobsPath),
		log:           opts.Logger.With("component", "sched"),
		maxTimerDelay: opts.MaxTimerDelay,
		minRefireGap:  opts.MinRefireGap,
		now:           opts.Now,
		wakeCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}
}

// SetDispatch registers the function invoked for every due job. Must be set
// before Start.
func (s *Service) SetDispatch(fn DispatchFunc) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.dispatch = fn
	s.mu.Unlock()
}

// AddJob arms a new job and returns it with a unique id. The job is live as
// soon as AddJob returns.
func (s *Service) AddJob(name string, schedule Schedule, payload Payload, deleteAfterRun bool) (Job, error) {
	if s == nil {
		return Job{}, errors.New("scheduler is nil")
	}
	now := s.now()
	next, err := NextRunAt(schedule, now, s.minRefireGap)
	if err != nil {
		return Job{}, err
	}

	job := Job{
		ID:             generateJobID(),
		Name:           strings.TrimSpace(name),
		Schedule:       schedule,
		Payload:        payload,
		DeleteAfterRun: deleteAfterRun,
		CreatedAt:      now,
		NextRunAt:      next,
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load()
	st.Jobs = append(st.Jobs, job)
	if err := s.save(st); err != nil {
		return Job{}, err
	}
	s.Wake()
	return job, nil
}

// RemoveJob cancels a pending job. Removal is idempotent: removing an
// already-fired or unknown job returns false, not an error.
func (s *Service) RemoveJob(id string) bool {
	if s == nil {
		return false
	}
	want := strings.TrimSpace(id)
	if want == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load()
	kept := st.Jobs[:0]
	found := false
	for _, job := range st.Jobs {
		if job.ID == want {
			found = true
			continue
		}
		kept = append(kept, job)
	}
	if !found {
		return false
	}
	st.Jobs = kept
	if err := s.save(st); err != nil {
		s.log.Error("remove job: save failed", "job", want, "error", err)
		return false
	}
	return true
}

func (s *Service) ListJobs() []Job {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	st := s.load()
	s.mu.Unlock()
	out := append([]Job(nil), st.Jobs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) GetJob(id string) (Job, bool) {
	want := strings.TrimSpace(id)
	for _, job := range s.ListJobs() {
		if job.ID == want {
			return job, true
		}
	}
	return Job{}, false
}

// Start runs the timer loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Service) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.doneCh
}

// Wake nudges the loop to re-read the job set immediately, e.g. after a job
// was armed for a near-future time.
func (s *Service) Wake() {
	if s == nil {
		return
	}
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.doneCh)

	delay := time.Duration(0)
	for {
		if ctx.Err() != nil {
			return
		}
		if delay <= 0 {
			delay = 250 * time.Millisecond
		}
		if delay > s.maxTimerDelay {
			delay = s.maxTimerDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		delay = s.tick(ctx, s.now())
	}
}

// tick claims and dispatches every due job, then returns how long the loop
// should sleep until the next one. A dispatch error is logged and recorded on
// the job; it never stops the loop.
func (s *Service) tick(ctx context.Context, now time.Time) time.Duration {
	due, next := s.claimDue(now)

	for _, job := range due {
		err := s.runJob(ctx, job)
		s.finishJob(job, now, err)
	}

	if len(due) > 0 {
		// Dispatch may have re-armed or removed jobs; recompute promptly.
		return 0
	}
	if next.IsZero() {
		return s.maxTimerDelay
	}
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	if d > s.maxTimerDelay {
		d = s.maxTimerDelay
	}
	return d
}

// claimDue pulls due jobs out of the armed set. Claimed jobs are removed
// from the store before dispatch so a concurrent RemoveJob of a job already
// firing is simply a no-op miss; recurring jobs are re-armed by finishJob.
func (s *Service) claimDue(now time.Time) (due []Job, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load()
	kept := st.Jobs[:0]
	for _, job := range st.Jobs {
		if !job.NextRunAt.After(now) {
			due = append(due, job)
			continue
		}
		if next.IsZero() || job.NextRunAt.Before(next) {
			next = job.NextRunAt
		}
		kept = append(kept, job)
	}
	if len(due) == 0 {
		return nil, next
	}
	st.Jobs = kept
	if err := s.save(st); err != nil {
		s.log.Error("claim due jobs: save failed", "error", err)
	}
	return due, next
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()

	s.mu.Lock()
	dispatch := s.dispatch
	s.mu.Unlock()
	if dispatch == nil {
		return errors.New("no dispatch function registered")
	}
	return dispatch(ctx, job)
}

// finishJob re-arms recurring jobs. One-shot jobs with DeleteAfterRun stay
// removed whether or not dispatch succeeded, so a failing payload cannot
// refire forever (at-most-once dispatch).
func (s *Service) finishJob(job Job, firedAt time.Time, runErr error) {
	if runErr != nil {
		s.log.Warn("job dispatch failed", "job", job.ID, "name", job.Name, "error", runErr)
	}
	if job.DeleteAfterRun || strings.EqualFold(job.Schedule.Type, "at") {
		// "at" is one-shot by construction; re-arming would refire the
		// same past timestamp on every tick.
		return
	}

	job.LastRunAt = firedAt
	job.LastError = ""
	if runErr != nil {
		job.LastError = runErr.Error()
	}
	next, err := NextRunAt(job.Schedule, s.now(), s.minRefireGap)
	if err != nil {
		s.log.Error("job cannot be re-armed", "job", job.ID, "error", err)
		return
	}
	job.NextRunAt = next

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load()
	st.Jobs = append(st.Jobs, job)
	if err := s.save(st); err != nil {
		s.log.Error("re-arm job: save failed", "job", job.ID, "error", err)
	}
}

// load reads the jobs file under s.mu. Missing or corrupt files yield an
// empty store; the next save restores valid structure.
func (s *Service) load() Store {
	st := Store{Version: StoreVersion}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return Store{Version: StoreVersion}
	}
	if st.Version <= 0 {
		st.Version = StoreVersion
	}
	return st
}

func (s *Service) save(st Store) error {
	st.Version = StoreVersion
	return util.WriteJSONAtomic(s.path, st)
}

func generateJobID() string {
	return "job-" + time.Now().UTC().Format("20060102-150405") + "-" + randomHex(3)
}

func randomHex(n int) string {
	if n <= 0 {
		n = 4
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UTC().UnixNano())
	}
	return hex.EncodeToString(buf)
}
