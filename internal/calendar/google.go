// Package calendar wraps the clinic's Google Calendar: conflict checks via
// freebusy and event creation for committed bookings.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/equilibriocl/agendabot/pkg/logging"
)

// Client talks to a single Google Calendar identified by calendarID.
type Client struct {
	svc        *gcal.Service
	calendarID string
	timezone   string
	logger     *logging.Logger
}

// New builds a Client from service-account credentials JSON.
func New(ctx context.Context, credentialsJSON []byte, calendarID, timezone string, logger *logging.Logger) (*Client, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("calendar: service account credentials required")
	}
	if calendarID == "" {
		return nil, errors.New("calendar: calendar id required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	svc, err := gcal.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(gcal.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar: failed to create service: %w", err)
	}

	return &Client{
		svc:        svc,
		calendarID: calendarID,
		timezone:   timezone,
		logger:     logger,
	}, nil
}

// HasConflict reports whether any busy interval overlaps [start, end).
// Errors are returned to the caller: availability listing treats them as
// busy, booking commits treat them as fatal.
func (c *Client) HasConflict(ctx context.Context, start, end time.Time) (bool, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin: start.Format(time.RFC3339),
		TimeMax: end.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: c.calendarID}},
	}

	resp, err := c.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("calendar: freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[c.calendarID]
	if !ok {
		return false, fmt.Errorf("calendar: freebusy response missing calendar %s", c.calendarID)
	}
	return len(cal.Busy) > 0, nil
}

// CreateEvent inserts a one-hour appointment event and returns its id.
// Reminders: email a day before, popup an hour before.
func (c *Client) CreateEvent(ctx context.Context, title, description string, start, end time.Time) (string, error) {
	event := &gcal.Event{
		Summary:     title,
		Description: description,
		Start: &gcal.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
		End: &gcal.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: c.timezone,
		},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 60},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}

	created, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}

	c.logger.Info("calendar event created", "event_id", created.Id, "start", start.Format(time.RFC3339))
	return created.Id, nil
}
