package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"minder/internal/dashboard"
	"minder/internal/sched"
	"minder/internal/timeparse"
)

// SendFunc delivers text to a chat on a named channel.
type SendFunc func(ctx context.Context, channelName, chatID, text string) error

// Calendar mirrors pending notifications into an external calendar.
// Implementations are best-effort; the reconciler logs failures and moves on.
type Calendar interface {
	CreateEvent(ctx context.Context, summary, startISO, description string) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// JobStore is the slice of the scheduler the reconciler needs for repair:
// re-arming pending entries whose timer was lost.
type JobStore interface {
	AddJob(name string, schedule sched.Schedule, payload sched.Payload, deleteAfterRun bool) (sched.Job, error)
	GetJob(id string) (sched.Job, bool)
	RemoveJob(id string) bool
}

// ReconcileResult is the outcome of one pass over the ledger.
type ReconcileResult struct {
	Due       []string // ids delivered (or attempted) this pass
	NextDueAt time.Time
	Changed   bool
}

type Reconciler struct {
	store  *dashboard.Store
	policy *Policy
	jobs   JobStore
	cal    Calendar
	send   SendFunc
	log    *slog.Logger

	defaultChannel string
	defaultChatID  string
	sendTimeout    time.Duration
	now            func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{} // mark-failure guard, per process
}

type ReconcilerOptions struct {
	Jobs           JobStore
	Calendar       Calendar
	DefaultChannel string
	DefaultChatID  string
	SendTimeout    time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

func NewReconciler(store *dashboard.Store, policy *Policy, send SendFunc, opts ReconcilerOptions) *Reconciler {
	if opts.DefaultChannel == "" {
		opts.DefaultChannel = "telegram"
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reconciler{
		store:          store,
		policy:         policy,
		jobs:           opts.Jobs,
		cal:            opts.Calendar,
		send:           send,
		log:            opts.Logger.With("component", "reconciler"),
		defaultChannel: opts.DefaultChannel,
		defaultChatID:  opts.DefaultChatID,
		sendTimeout:    opts.SendTimeout,
		now:            opts.Now,
		inFlight:       make(map[string]struct{}),
	}
}

// HandleJob is the scheduler dispatch target for notification payloads.
func (r *Reconciler) HandleJob(ctx context.Context, job sched.Job) error {
	if job.Payload.Kind != "notify" {
		return fmt.Errorf("unexpected payload kind %q", job.Payload.Kind)
	}
	return r.Deliver(ctx, job.Payload.NotificationID, job.Payload.Channel, job.Payload.ChatID)
}

// Deliver attempts delivery of one ledger entry. The entry is re-fetched
// first: a fired timer for a meanwhile-cancelled or already-delivered entry
// is a no-op, which makes re-fetch the authoritative cancellation guard.
func (r *Reconciler) Deliver(ctx context.Context, notifID, channelName, chatID string) error {
	n, idx := r.store.FindNotification(notifID)
	if idx < 0 {
		r.log.Warn("stale fire: notification not found", "id", notifID)
		return nil
	}
	if n.Status != dashboard.StatusPending {
		r.log.Debug("stale fire: notification not pending", "id", notifID, "status", n.Status)
		return nil
	}

	if channelName == "" {
		channelName = r.defaultChannel
	}
	if chatID == "" {
		chatID = r.defaultChatID
	}
	if chatID == "" {
		r.log.Warn("no chat id configured, leaving pending", "id", notifID)
		return nil
	}

	now := r.now()
	switch verdict := r.policy.Evaluate(n.Message, n.Priority, now); verdict {
	case SuppressDup:
		r.log.Info("suppressed duplicate", "id", notifID)
		return nil
	case DeferQuietHours, DeferDailyLimit:
		r.policy.AddToBatch(BatchItem{NotificationID: n.ID, Message: n.Message, Priority: n.Priority})
		r.log.Info("deferred to batch", "id", notifID, "reason", string(verdict))
		return nil
	}

	r.mu.Lock()
	if _, busy := r.inFlight[notifID]; busy {
		r.mu.Unlock()
		r.log.Debug("skipping in-flight notification", "id", notifID)
		return nil
	}
	r.inFlight[notifID] = struct{}{}
	r.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	err := r.send(sendCtx, channelName, chatID, n.Message)
	cancel()
	if err != nil {
		r.clearInFlight(notifID)
		r.log.Error("send failed, entry stays pending", "id", notifID, "error", err)
		return fmt.Errorf("send %s: %w", notifID, err)
	}

	r.policy.RecordSent(n.Message, now)

	// Sent but not yet marked: retry the mark a few times. If all attempts
	// fail the in-flight guard keeps this process from re-sending the same
	// entry.
	for attempt := 0; attempt < 3; attempt++ {
		if err := r.markDelivered(ctx, notifID); err == nil {
			r.clearInFlight(notifID)
			r.log.Info("delivered", "id", notifID, "channel", channelName)
			return nil
		} else if attempt < 2 {
			r.log.Warn("mark delivered failed, retrying", "id", notifID, "error", err)
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
		}
	}
	r.log.Error("sent but could not mark delivered", "id", notifID)
	return nil
}

func (r *Reconciler) clearInFlight(notifID string) {
	r.mu.Lock()
	delete(r.inFlight, notifID)
	r.mu.Unlock()
}

// markDelivered flips a pending entry to delivered and stamps delivered_at
// exactly once. The calendar mirror event, if any, is removed best-effort.
func (r *Reconciler) markDelivered(ctx context.Context, notifID string) error {
	return r.store.Locked(func() error {
		f := r.store.LoadNotifications()
		for i := range f.Notifications {
			n := &f.Notifications[i]
			if n.ID != notifID {
				continue
			}
			if n.Status != dashboard.StatusPending {
				return nil
			}
			n.Status = dashboard.StatusDelivered
			if n.DeliveredAt == "" {
				n.DeliveredAt = timeparse.Format(r.now())
			}
			if n.CalendarEventID != "" && r.cal != nil {
				if err := r.cal.DeleteEvent(ctx, n.CalendarEventID); err != nil {
					r.log.Warn("calendar delete failed", "id", notifID, "error", err)
				} else {
					n.CalendarEventID = ""
				}
			}
			return r.store.SaveNotifications(f)
		}
		return fmt.Errorf("notification %s not found", notifID)
	})
}

// Reconcile runs one repair pass over the ledger:
//   - overdue pending entries are delivered right away
//   - future pending entries get a scheduler job if theirs was lost and a
//     calendar mirror event if missing
//   - delivered and cancelled entries get their calendar event removed
func (r *Reconciler) Reconcile(ctx context.Context) ReconcileResult {
	now := r.now()
	result := ReconcileResult{}

	err := r.store.Locked(func() error {
		f := r.store.LoadNotifications()
		changed := false

		for i := range f.Notifications {
			n := &f.Notifications[i]
			switch n.Status {
			case dashboard.StatusDelivered, dashboard.StatusCancelled:
				if n.CalendarEventID != "" && r.cal != nil {
					if err := r.cal.DeleteEvent(ctx, n.CalendarEventID); err != nil {
						r.log.Warn("calendar delete failed", "id", n.ID, "error", err)
					} else {
						n.CalendarEventID = ""
						changed = true
					}
				}
				continue
			case dashboard.StatusPending:
			default:
				continue
			}

			scheduled, err := timeparse.Parse(n.ScheduledAt, now)
			if err != nil {
				r.log.Warn("skipping entry with bad scheduled_at", "id", n.ID, "value", n.ScheduledAt, "error", err)
				continue
			}

			if !scheduled.After(now) {
				result.Due = append(result.Due, n.ID)
				continue
			}

			if r.jobs != nil {
				if _, ok := r.jobs.GetJob(n.SchedulerJobID); !ok {
					job, err := r.jobs.AddJob(
						"notify "+n.ID,
						sched.AtSchedule(scheduled),
						sched.Payload{Kind: "notify", NotificationID: n.ID, Channel: r.defaultChannel, ChatID: r.defaultChatID},
						true,
					)
					if err != nil {
						r.log.Error("re-arm failed", "id", n.ID, "error", err)
					} else {
						r.log.Info("re-armed lost timer", "id", n.ID, "job", job.ID)
						n.SchedulerJobID = job.ID
						changed = true
					}
				}
			}

			if r.cal != nil && n.CalendarEventID == "" {
				eventID, err := r.cal.CreateEvent(ctx, n.Message, n.ScheduledAt, calendarDescription(*n))
				if err != nil {
					r.log.Warn("calendar create failed", "id", n.ID, "error", err)
				} else {
					n.CalendarEventID = eventID
					changed = true
				}
			}

			if result.NextDueAt.IsZero() || scheduled.Before(result.NextDueAt) {
				result.NextDueAt = scheduled
			}
		}

		if changed {
			result.Changed = true
			return r.store.SaveNotifications(f)
		}
		return nil
	})
	if err != nil {
		r.log.Error("reconcile save failed", "error", err)
	}

	for _, id := range result.Due {
		if err := r.Deliver(ctx, id, "", ""); err != nil {
			r.log.Error("overdue delivery failed", "id", id, "error", err)
		}
	}
	return result
}

// FlushBatch sends the queued digest, if any, and marks the flushed entries
// delivered. On a failed send the drained items go back into the queue
// unrecorded, so the next flush can retry them without dedup suppression.
func (r *Reconciler) FlushBatch(ctx context.Context) error {
	now := r.now()
	text, items, ok := r.policy.FlushBatch(now)
	if !ok {
		return nil
	}
	if r.defaultChatID == "" {
		r.policy.RequeueBatch(items)
		return fmt.Errorf("flush batch: no chat id configured")
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	if err := r.send(sendCtx, r.defaultChannel, r.defaultChatID, text); err != nil {
		r.policy.RequeueBatch(items)
		return fmt.Errorf("flush batch send: %w", err)
	}
	for _, item := range items {
		r.policy.RecordSent(item.Message, now)
	}
	for _, item := range items {
		if item.NotificationID == "" {
			continue
		}
		if err := r.markDelivered(ctx, item.NotificationID); err != nil {
			r.log.Warn("mark delivered after flush failed", "id", item.NotificationID, "error", err)
		}
	}
	return nil
}

func calendarDescription(n dashboard.Notification) string {
	var parts []string
	if n.Context != "" {
		parts = append(parts, n.Context)
	}
	if n.RelatedTaskID != "" {
		parts = append(parts, "Related Task: "+n.RelatedTaskID)
	}
	return strings.Join(parts, "\n")
}
