package timeparse

import (
	"testing"
	"time"
)

var ref = time.Date(2026, 2, 9, 14, 30, 0, 0, time.Local)

func TestParse_ISO(t *testing.T) {
	got, err := Parse("2026-02-10T09:00:00", ref)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 2, 10, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParse_ISOWithoutSeconds(t *testing.T) {
	got, err := Parse("2026-02-10 09:00", ref)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Hour() != 9 || got.Minute() != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestParse_Relative(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"in 2 hours", ref.Add(2 * time.Hour)},
		{"in 1 hour", ref.Add(time.Hour)},
		{"in 45 minutes", ref.Add(45 * time.Minute)},
		{"in 3 days", ref.AddDate(0, 0, 3)},
		{"tomorrow", time.Date(2026, 2, 10, 9, 0, 0, 0, time.Local)},
		{"tomorrow 9am", time.Date(2026, 2, 10, 9, 0, 0, 0, time.Local)},
		{"tomorrow 6pm", time.Date(2026, 2, 10, 18, 0, 0, 0, time.Local)},
		{"tomorrow 12am", time.Date(2026, 2, 10, 0, 0, 0, 0, time.Local)},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, ref)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parse %q: got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "soonish", "next blue moon", "02/10/2026"} {
		if _, err := Parse(in, ref); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestIsAbsolute(t *testing.T) {
	if !IsAbsolute("2026-02-10T09:00:00") {
		t.Fatalf("ISO input should be absolute")
	}
	if IsAbsolute("in 2 hours") {
		t.Fatalf("relative input should not be absolute")
	}
}

func TestFormatRoundTrip(t *testing.T) {
	in := time.Date(2026, 2, 10, 9, 5, 30, 0, time.Local)
	got, err := Parse(Format(in), ref)
	if err != nil {
		t.Fatalf("parse formatted: %v", err)
	}
	if !got.Equal(in) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, in)
	}
}
