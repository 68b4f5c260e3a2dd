// Package notify holds the notification policy engine and the
// reconciler/delivery loop. The policy decides whether a message may go out
// right now; the reconciler moves ledger entries from pending to delivered.
package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Verdict is the policy's answer for a single candidate message.
type Verdict string

const (
	SendOK          Verdict = "ok"
	SuppressDup     Verdict = "duplicate"
	DeferQuietHours Verdict = "quiet_hours"
	DeferDailyLimit Verdict = "daily_limit"
)

type PolicyConfig struct {
	QuietHoursStart  int `json:"quiet_hours_start"`
	QuietHoursEnd    int `json:"quiet_hours_end"`
	DailyLimit       int `json:"daily_limit"`
	DedupWindowHours int `json:"dedup_window_hours"`
	BatchMax         int `json:"batch_max"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		QuietHoursStart:  23,
		QuietHoursEnd:    8,
		DailyLimit:       10,
		DedupWindowHours: 24,
		BatchMax:         5,
	}
}

// BatchItem is a deferred notification waiting for the next digest flush.
type BatchItem struct {
	NotificationID string
	Message        string
	Priority       string
}

// Policy is the pure decision core: dedup window, quiet hours, daily limit,
// digest batching. All state is in memory; callers pass the clock in, so the
// policy itself never reads time.Now.
type Policy struct {
	cfg PolicyConfig

	mu          sync.Mutex
	sentHashes  map[string]time.Time
	dailyCounts map[string]int
	batch       []BatchItem
}

func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = DefaultPolicyConfig().BatchMax
	}
	return &Policy{
		cfg:         cfg,
		sentHashes:  make(map[string]time.Time),
		dailyCounts: make(map[string]int),
	}
}

func msgHash(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])[:12]
}

func isHigh(priority string) bool {
	return strings.EqualFold(strings.TrimSpace(priority), "high")
}

// Evaluate classifies a candidate. The dedup window applies to every
// priority, high included; quiet hours and the daily limit gate only
// non-high messages.
func (p *Policy) Evaluate(message, priority string, now time.Time) Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isDuplicate(message, now) {
		return SuppressDup
	}
	if !isHigh(priority) {
		if p.inQuietHours(now) {
			return DeferQuietHours
		}
		if p.dailyCounts[dayKey(now)] >= p.cfg.DailyLimit {
			return DeferDailyLimit
		}
	}
	return SendOK
}

func (p *Policy) ShouldSend(message, priority string, now time.Time) bool {
	return p.Evaluate(message, priority, now) == SendOK
}

// RecordSent registers a successful send: the message hash enters the dedup
// window and the daily count ticks up. Expired hashes and past days are
// pruned on the way.
func (p *Policy) RecordSent(message string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordSentLocked(message, now)
}

func (p *Policy) recordSentLocked(message string, now time.Time) {
	p.sentHashes[msgHash(message)] = now
	cutoff := now.Add(-time.Duration(p.cfg.DedupWindowHours) * time.Hour)
	for h, at := range p.sentHashes {
		if !at.After(cutoff) {
			delete(p.sentHashes, h)
		}
	}

	today := dayKey(now)
	p.dailyCounts[today]++
	for day := range p.dailyCounts {
		if day < today {
			delete(p.dailyCounts, day)
		}
	}
}

// AddToBatch queues an item for the next digest. Re-deferring an entry that
// is already queued is a no-op, so a pending entry deferred again on every
// reconcile pass through a quiet window still appears in the digest once.
func (p *Policy) AddToBatch(item BatchItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.batchedLocked(item) {
		return
	}
	p.batch = append(p.batch, item)
}

func (p *Policy) batchedLocked(item BatchItem) bool {
	for _, queued := range p.batch {
		if item.NotificationID != "" {
			if queued.NotificationID == item.NotificationID {
				return true
			}
			continue
		}
		if queued.NotificationID == "" && queued.Message == item.Message {
			return true
		}
	}
	return false
}

// RequeueBatch puts drained items back at the front of the queue, keeping
// their order. Used when the digest send fails after a flush.
func (p *Policy) RequeueBatch(items []BatchItem) {
	if len(items) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	restored := make([]BatchItem, 0, len(items)+len(p.batch))
	restored = append(restored, items...)
	for _, queued := range p.batch {
		dup := false
		for _, item := range items {
			if item.NotificationID != "" && item.NotificationID == queued.NotificationID {
				dup = true
				break
			}
		}
		if !dup {
			restored = append(restored, queued)
		}
	}
	p.batch = restored
}

func (p *Policy) PendingBatch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batch)
}

// FlushBatch drains up to BatchMax items FIFO and formats them for sending.
// A single item goes out as its raw message; multiple items become a digest
// with priority icons. Items beyond BatchMax stay queued for the next
// flush. ok is false when the batch was empty. Flushed items are not yet
// recorded as sent: the caller records them after the send succeeds, or
// requeues them when it fails, so a failed digest does not poison the dedup
// window.
func (p *Policy) FlushBatch(now time.Time) (text string, items []BatchItem, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.batch) == 0 {
		return "", nil, false
	}
	n := p.cfg.BatchMax
	if n > len(p.batch) {
		n = len(p.batch)
	}
	items = append([]BatchItem(nil), p.batch[:n]...)
	p.batch = append([]BatchItem(nil), p.batch[n:]...)

	if len(items) == 1 {
		return items[0].Message, items, true
	}

	var b strings.Builder
	b.WriteString("📋 Notifications\n")
	for _, item := range items {
		b.WriteString("\n")
		b.WriteString(priorityIcon(item.Priority))
		b.WriteString(" ")
		b.WriteString(item.Message)
	}
	return b.String(), items, true
}

func priorityIcon(priority string) string {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "high":
		return "🔴"
	case "normal", "medium":
		return "🟡"
	default:
		return "⚪"
	}
}

// InQuietHours reports whether now falls inside the quiet window. Callers
// use it to hold batch flushes until the window ends.
func (p *Policy) InQuietHours(now time.Time) bool {
	return p.inQuietHours(now)
}

// inQuietHours implements the wrap-around window. start == end means the
// window is empty, not 24h.
func (p *Policy) inQuietHours(now time.Time) bool {
	hour := now.Hour()
	start, end := p.cfg.QuietHoursStart, p.cfg.QuietHoursEnd
	if start > end {
		return hour >= start || hour < end
	}
	return start <= hour && hour < end
}

func (p *Policy) isDuplicate(message string, now time.Time) bool {
	last, seen := p.sentHashes[msgHash(message)]
	if !seen {
		return false
	}
	return now.Sub(last) < time.Duration(p.cfg.DedupWindowHours)*time.Hour
}

func dayKey(now time.Time) string {
	return now.Format("2006-01-02")
}
