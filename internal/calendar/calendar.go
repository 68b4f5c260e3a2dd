// Package calendar mirrors scheduled notifications into Google Calendar so
// the user can see upcoming pings outside the chat channels.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"minder/internal/timeparse"
)

// Client wraps the Calendar API v3 events surface. Events are created with a
// fixed duration starting at the notification's scheduled time.
type Client struct {
	svc        *gcal.Service
	calendarID string
	timezone   string
	duration   time.Duration
	log        *slog.Logger
}

type Options struct {
	CredentialsFile string
	TokenFile       string
	CalendarID      string
	Timezone        string
	DurationMinutes int
}

// NewClient builds an authenticated client from a desktop-app OAuth client
// secret plus a previously stored token. It does not run the interactive
// consent flow; the token file must already exist.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	secret, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}

	tokenData, err := os.ReadFile(opts.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar token (run the auth flow first): %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(tokenData, &token); err != nil {
		return nil, fmt.Errorf("parse calendar token: %w", err)
	}

	svc, err := gcal.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("build calendar service: %w", err)
	}

	calendarID := opts.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	timezone := opts.Timezone
	if timezone == "" {
		timezone = "Local"
	}
	duration := time.Duration(opts.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = 30 * time.Minute
	}

	return &Client{
		svc:        svc,
		calendarID: calendarID,
		timezone:   timezone,
		duration:   duration,
		log:        slog.Default().With("component", "calendar"),
	}, nil
}

// CreateEvent inserts an event at startISO and returns its ID.
func (c *Client) CreateEvent(ctx context.Context, summary, startISO, description string) (string, error) {
	start, err := timeparse.Parse(startISO, time.Now())
	if err != nil {
		return "", fmt.Errorf("bad event start time %q: %w", startISO, err)
	}
	end := start.Add(c.duration)

	event := &gcal.Event{
		Summary:     summary,
		Description: description,
		Start: &gcal.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.eventTimezone(),
		},
		End: &gcal.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.eventTimezone(),
		},
	}

	created, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	c.log.Debug("calendar event created", "event_id", created.Id, "summary", summary)
	return created.Id, nil
}

// DeleteEvent removes an event. Deleting an already-gone event is not an
// error worth surfacing to callers, they only care the mirror is cleared.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete calendar event %s: %w", eventID, err)
	}
	c.log.Debug("calendar event deleted", "event_id", eventID)
	return nil
}

func (c *Client) eventTimezone() string {
	if c.timezone == "Local" {
		return time.Local.String()
	}
	return c.timezone
}
