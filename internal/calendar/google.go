// Package calendar books consultations on the clinic's Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Event is an appointment to create.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Creator creates calendar events and returns the provider's event id.
type Creator interface {
	CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error)
}

// GoogleCalendar implements Creator on the Calendar v3 API.
type GoogleCalendar struct {
	svc      *gcal.Service
	location *time.Location
}

// NewGoogleCalendar builds the API client. opts carry credentials
// (option.WithCredentialsFile) or, in tests, an endpoint and HTTP client.
func NewGoogleCalendar(ctx context.Context, location *time.Location, opts ...option.ClientOption) (*GoogleCalendar, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	if location == nil {
		location = time.UTC
	}
	return &GoogleCalendar{svc: svc, location: location}, nil
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	if strings.TrimSpace(calendarID) == "" {
		return "", errors.New("calendar: calendar id required")
	}
	if ev.Start.IsZero() {
		return "", errors.New("calendar: start time required")
	}
	if !ev.End.After(ev.Start) {
		ev.End = ev.Start.Add(time.Hour)
	}
	tz := g.location.String()
	created, err := g.svc.Events.Insert(calendarID, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.In(g.location).Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.In(g.location).Format(time.RFC3339),
			TimeZone: tz,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	return created.Id, nil
}
