package notify

import (
	"strings"
	"testing"
	"time"
)

func daytime(hour int) time.Time {
	return time.Date(2026, 2, 9, hour, 15, 0, 0, time.Local)
}

func TestDedupWindow(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())
	sent := daytime(10)
	p.RecordSent("standup in 15 minutes", sent)

	if got := p.Evaluate("standup in 15 minutes", "medium", sent.Add(23*time.Hour)); got != SuppressDup {
		t.Fatalf("23h later: verdict = %v, want duplicate", got)
	}
	if got := p.Evaluate("standup in 15 minutes", "medium", sent.Add(25*time.Hour)); got != SendOK {
		t.Fatalf("25h later: verdict = %v, want ok", got)
	}
	if got := p.Evaluate("a different message", "medium", sent.Add(time.Minute)); got != SendOK {
		t.Fatalf("different message: verdict = %v, want ok", got)
	}
}

func TestDedupAppliesToHighPriority(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())
	p.RecordSent("server down", daytime(10))

	if got := p.Evaluate("server down", "high", daytime(11)); got != SuppressDup {
		t.Fatalf("high-priority duplicate: verdict = %v, want duplicate", got)
	}
}

func TestQuietHoursWrapAround(t *testing.T) {
	p := NewPolicy(PolicyConfig{QuietHoursStart: 23, QuietHoursEnd: 8, DailyLimit: 10, DedupWindowHours: 24, BatchMax: 5})

	cases := []struct {
		hour int
		want Verdict
	}{
		{23, DeferQuietHours},
		{2, DeferQuietHours},
		{7, DeferQuietHours},
		{8, SendOK}, // end is exclusive
		{12, SendOK},
		{22, SendOK},
	}
	for _, tc := range cases {
		if got := p.Evaluate("msg "+string(rune('a'+tc.hour)), "medium", daytime(tc.hour)); got != tc.want {
			t.Errorf("hour %02d: verdict = %v, want %v", tc.hour, got, tc.want)
		}
	}
}

func TestQuietHoursHighBypassesAndEqualBoundsDisable(t *testing.T) {
	p := NewPolicy(PolicyConfig{QuietHoursStart: 23, QuietHoursEnd: 8, DailyLimit: 10, DedupWindowHours: 24, BatchMax: 5})
	if got := p.Evaluate("urgent", "high", daytime(2)); got != SendOK {
		t.Fatalf("high at 02:00: verdict = %v, want ok", got)
	}

	off := NewPolicy(PolicyConfig{QuietHoursStart: 9, QuietHoursEnd: 9, DailyLimit: 10, DedupWindowHours: 24, BatchMax: 5})
	for _, hour := range []int{0, 9, 15, 23} {
		if got := off.Evaluate("msg", "medium", daytime(hour)); got != SendOK {
			t.Fatalf("start==end, hour %02d: verdict = %v, want ok", hour, got)
		}
	}
}

func TestDailyLimitResetsNextDay(t *testing.T) {
	p := NewPolicy(PolicyConfig{QuietHoursStart: 0, QuietHoursEnd: 0, DailyLimit: 2, DedupWindowHours: 1, BatchMax: 5})
	now := daytime(10)

	p.RecordSent("one", now)
	p.RecordSent("two", now)

	if got := p.Evaluate("three", "medium", now); got != DeferDailyLimit {
		t.Fatalf("over limit: verdict = %v, want daily_limit", got)
	}
	if got := p.Evaluate("three", "high", now); got != SendOK {
		t.Fatalf("high over limit: verdict = %v, want ok", got)
	}
	if got := p.Evaluate("three", "medium", now.Add(24*time.Hour)); got != SendOK {
		t.Fatalf("next day: verdict = %v, want ok", got)
	}
}

func TestFlushBatchSingleItemIsRaw(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())
	p.AddToBatch(BatchItem{NotificationID: "n_1", Message: "only one", Priority: "medium"})

	text, items, ok := p.FlushBatch(daytime(10))
	if !ok {
		t.Fatalf("FlushBatch returned not ok")
	}
	if text != "only one" {
		t.Fatalf("single-item flush = %q, want raw message", text)
	}
	if len(items) != 1 || items[0].NotificationID != "n_1" {
		t.Fatalf("items = %+v", items)
	}
}

func TestFlushBatchDigestAndRemainder(t *testing.T) {
	p := NewPolicy(PolicyConfig{QuietHoursStart: 0, QuietHoursEnd: 0, DailyLimit: 10, DedupWindowHours: 24, BatchMax: 2})
	p.AddToBatch(BatchItem{NotificationID: "n_1", Message: "first", Priority: "high"})
	p.AddToBatch(BatchItem{NotificationID: "n_2", Message: "second", Priority: "medium"})
	p.AddToBatch(BatchItem{NotificationID: "n_3", Message: "third", Priority: "low"})

	text, items, ok := p.FlushBatch(daytime(10))
	if !ok {
		t.Fatalf("FlushBatch returned not ok")
	}
	if len(items) != 2 || items[0].NotificationID != "n_1" || items[1].NotificationID != "n_2" {
		t.Fatalf("flush order/cap wrong: %+v", items)
	}
	if !strings.HasPrefix(text, "📋 Notifications") {
		t.Fatalf("digest missing header: %q", text)
	}
	if !strings.Contains(text, "🔴 first") || !strings.Contains(text, "🟡 second") {
		t.Fatalf("digest missing icons: %q", text)
	}
	if p.PendingBatch() != 1 {
		t.Fatalf("remainder = %d, want 1", p.PendingBatch())
	}

	// Flushing alone does not enter the dedup window; the caller records
	// items only after the digest actually went out.
	if got := p.Evaluate("first", "medium", daytime(11)); got != SendOK {
		t.Fatalf("unsent flush entered dedup window: %v", got)
	}

	if _, _, ok := p.FlushBatch(daytime(10)); !ok {
		t.Fatalf("remainder flush returned not ok")
	}
	if _, _, ok := p.FlushBatch(daytime(10)); ok {
		t.Fatalf("empty flush returned ok")
	}
}

func TestAddToBatchSkipsAlreadyQueued(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())
	p.AddToBatch(BatchItem{NotificationID: "n_1", Message: "first", Priority: "medium"})
	p.AddToBatch(BatchItem{NotificationID: "n_1", Message: "first", Priority: "medium"})
	p.AddToBatch(BatchItem{NotificationID: "n_2", Message: "second", Priority: "low"})
	if p.PendingBatch() != 2 {
		t.Fatalf("batch = %d, want 2", p.PendingBatch())
	}

	_, items, ok := p.FlushBatch(daytime(10))
	if !ok || len(items) != 2 || items[0].NotificationID != "n_1" || items[1].NotificationID != "n_2" {
		t.Fatalf("flush = %+v, ok=%v", items, ok)
	}

	// Items without an id fall back to the message text.
	p.AddToBatch(BatchItem{Message: "anonymous"})
	p.AddToBatch(BatchItem{Message: "anonymous"})
	if p.PendingBatch() != 1 {
		t.Fatalf("anonymous batch = %d, want 1", p.PendingBatch())
	}
}

func TestRequeueBatchRestoresOrder(t *testing.T) {
	p := NewPolicy(PolicyConfig{QuietHoursStart: 0, QuietHoursEnd: 0, DailyLimit: 10, DedupWindowHours: 24, BatchMax: 2})
	p.AddToBatch(BatchItem{NotificationID: "n_1", Message: "first"})
	p.AddToBatch(BatchItem{NotificationID: "n_2", Message: "second"})
	p.AddToBatch(BatchItem{NotificationID: "n_3", Message: "third"})

	_, items, ok := p.FlushBatch(daytime(10))
	if !ok || len(items) != 2 {
		t.Fatalf("flush = %+v, ok=%v", items, ok)
	}
	p.RequeueBatch(items)
	if p.PendingBatch() != 3 {
		t.Fatalf("batch after requeue = %d, want 3", p.PendingBatch())
	}

	_, items, ok = p.FlushBatch(daytime(10))
	if !ok || items[0].NotificationID != "n_1" || items[1].NotificationID != "n_2" {
		t.Fatalf("requeue lost order: %+v", items)
	}
}
