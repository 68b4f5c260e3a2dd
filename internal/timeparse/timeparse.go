// Package timeparse resolves the time expressions accepted by the dashboard
// tools: ISO datetimes plus a small vocabulary of relative phrases such as
// "in 2 hours" or "tomorrow 9am". Resolution is always against an explicit
// reference time so callers stay deterministic under test.
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the naive local-time format the ledger stores.
const Layout = "2006-01-02T15:04:05"

var (
	inHoursRe   = regexp.MustCompile(`(?i)^in (\d+) hours?$`)
	inMinutesRe = regexp.MustCompile(`(?i)^in (\d+) minutes?$`)
	inDaysRe    = regexp.MustCompile(`(?i)^in (\d+) days?$`)
	clockRe     = regexp.MustCompile(`(?i)(\d{1,2})(am|pm)`)
)

var isoLayouts = []string{
	Layout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse resolves raw into an absolute time. Relative phrases resolve against
// now. The result is naive local time, comparable with time.Now().
func Parse(raw string, now time.Time) (time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}, errors.New("time is empty")
	}
	if now.IsZero() {
		now = time.Now()
	}

	if t, ok := parseAbsolute(text); ok {
		return t, nil
	}

	if m := inHoursRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.Add(time.Duration(n) * time.Hour), nil
	}
	if m := inMinutesRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.Add(time.Duration(n) * time.Minute), nil
	}
	if m := inDaysRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, n), nil
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "tomorrow") {
		return atHourOn(now.AddDate(0, 0, 1), text, 9), nil
	}
	if strings.Contains(lower, "today") {
		return atHourOn(now, text, now.Hour()), nil
	}

	return time.Time{}, fmt.Errorf("parse time %q: expected ISO datetime or relative phrase like \"in 2 hours\"", raw)
}

// IsAbsolute reports whether raw is already an explicit ISO datetime, as
// opposed to a relative phrase that only made sense at schedule time.
func IsAbsolute(raw string) bool {
	_, ok := parseAbsolute(strings.TrimSpace(raw))
	return ok
}

// Format renders t in the ledger's naive local layout.
func Format(t time.Time) string {
	return t.Format(Layout)
}

func parseAbsolute(text string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		// Aware input: convert to local wall time, then drop the zone.
		local := t.Local()
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.Local), true
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func atHourOn(day time.Time, text string, defaultHour int) time.Time {
	hour := defaultHour
	if m := clockRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		switch strings.ToLower(m[2]) {
		case "pm":
			if h != 12 {
				h += 12
			}
		case "am":
			if h == 12 {
				h = 0
			}
		}
		hour = h
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}
