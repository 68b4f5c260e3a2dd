package worker

import (
	"context"
	"log/slog"
	"time"

	"minder/internal/notify"
)

// Heartbeat wakes periodically, runs the maintenance pass, reconciles the
// ledger against the scheduler, and flushes deferred notifications once the
// quiet window is over.
type Heartbeat struct {
	Every       time.Duration
	Maintenance *Maintenance
	Reconciler  *notify.Reconciler
	Policy      *notify.Policy

	// Review, when set, lets the model look over the dashboard itself.
	// It runs every ReviewEvery ticks, after the rule-based pass, so the
	// cheap checks still fire even when the model call fails or stalls.
	Review      func(ctx context.Context) error
	ReviewEvery int

	Now func() time.Time
	Log *slog.Logger

	ticks  int
	wakeCh chan struct{}
	doneCh chan struct{}
}

func NewHeartbeat(every time.Duration, maintenance *Maintenance, reconciler *notify.Reconciler, policy *notify.Policy) *Heartbeat {
	if every <= 0 {
		every = 30 * time.Minute
	}
	return &Heartbeat{
		Every:       every,
		Maintenance: maintenance,
		Reconciler:  reconciler,
		Policy:      policy,
		ReviewEvery: 4,
		Now:         time.Now,
		Log:         slog.Default().With("component", "heartbeat"),
		wakeCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
}

// Wake forces a tick ahead of schedule. Coalesces when one is queued.
func (h *Heartbeat) Wake() {
	select {
	case h.wakeCh <- struct{}{}:
	default:
	}
}

func (h *Heartbeat) Done() <-chan struct{} { return h.doneCh }

// Start launches the loop. The first tick runs after one full interval;
// startup reconciliation is the caller's job.
func (h *Heartbeat) Start(ctx context.Context) {
	go h.loop(ctx)
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.doneCh)
	for {
		timer := time.NewTimer(h.Every)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-h.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
		h.Tick(ctx)
	}
}

// Tick runs one heartbeat cycle. Errors are logged, not returned: a failed
// cycle is retried wholesale on the next interval.
func (h *Heartbeat) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := h.Now()

	if h.Maintenance != nil {
		if _, err := h.Maintenance.Run(ctx); err != nil {
			h.Log.Warn("maintenance pass failed", "error", err)
		}
	}

	h.ticks++
	if h.Review != nil && h.ReviewEvery > 0 && h.ticks%h.ReviewEvery == 0 {
		if err := h.Review(ctx); err != nil {
			h.Log.Warn("dashboard review failed", "error", err)
		}
	}

	if h.Reconciler != nil {
		result := h.Reconciler.Reconcile(ctx)
		if result.Changed {
			h.Log.Info("reconcile applied changes", "due", len(result.Due))
		}

		if h.Policy != nil && !h.Policy.InQuietHours(h.Now()) && h.Policy.PendingBatch() > 0 {
			if err := h.Reconciler.FlushBatch(ctx); err != nil {
				h.Log.Warn("batch flush failed", "error", err)
			}
		}
	}

	h.Log.Debug("heartbeat tick complete", "duration", time.Since(start).Round(time.Millisecond))
}
