package sched

import (
	"errors"
	"fmt"
	"strings"
	"time"

	robcron "github.com/robfig/cron/v3"
)

// NextRunAt computes the fire time for sched after now. One-shot "at"
// schedules return their timestamp even when already past, so overdue jobs
// fire immediately on the next tick instead of being lost.
func NextRunAt(sched Schedule, now time.Time, minRefireGap time.Duration) (time.Time, error) {
	if now.IsZero() {
		now = time.Now()
	}

	switch strings.ToLower(strings.TrimSpace(sched.Type)) {
	case "at":
		if sched.At.IsZero() {
			return time.Time{}, errors.New("schedule.at is required for at")
		}
		return sched.At, nil
	case "cron":
		expr := strings.TrimSpace(sched.Expr)
		if expr == "" {
			return time.Time{}, errors.New("schedule.expr is required for cron")
		}
		parser := robcron.NewParser(robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow | robcron.Descriptor)
		schedule, err := parser.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expr: %w", err)
		}
		next := schedule.Next(now)
		if minRefireGap > 0 {
			gapUntil := now.Add(minRefireGap)
			if !next.After(gapUntil) {
				next = schedule.Next(gapUntil)
			}
		}
		return next, nil
	case "every":
		raw := strings.TrimSpace(sched.Every)
		if raw == "" {
			return time.Time{}, errors.New("schedule.every is required for every")
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse schedule.every: %w", err)
		}
		if d <= 0 {
			return time.Time{}, errors.New("schedule.every must be > 0")
		}
		return now.Add(d), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule.type: %s", sched.Type)
	}
}
