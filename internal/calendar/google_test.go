package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestCalendar(t *testing.T, handler http.HandlerFunc) *GoogleCalendar {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	cal, err := NewGoogleCalendar(context.Background(), loc,
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	return cal
}

func TestCreateEvent(t *testing.T) {
	var got map[string]any
	cal := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/events"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt_123","status":"confirmed"}`))
	})

	start := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	id, err := cal.CreateEvent(context.Background(), "clinic@group.calendar.google.com", Event{
		Summary: "Consulta - Ana",
		Start:   start,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt_123", id)

	startField := got["start"].(map[string]any)
	endField := got["end"].(map[string]any)
	assert.Equal(t, "2025-06-10T09:00:00-03:00", startField["dateTime"])
	assert.Equal(t, "2025-06-10T10:00:00-03:00", endField["dateTime"])
	assert.Equal(t, "America/Sao_Paulo", startField["timeZone"])
}

func TestCreateEventPropagatesErrors(t *testing.T) {
	cal := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
	})
	_, err := cal.CreateEvent(context.Background(), "cal", Event{Start: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar: insert event")
}

func TestCreateEventValidates(t *testing.T) {
	cal := newTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request")
	})
	_, err := cal.CreateEvent(context.Background(), "", Event{Start: time.Now()})
	assert.Error(t, err)
	_, err = cal.CreateEvent(context.Background(), "cal", Event{})
	assert.Error(t, err)
}
