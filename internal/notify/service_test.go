package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestNotifyEmergency(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, "ops@clinic.test", nil)
	err := svc.NotifyEmergency(context.Background(), EmergencyAlert{
		Identity:   "5511988887777",
		TenantName: "Clínica Vida",
		FirstName:  "João",
		Message:    "estou com dor no peito <forte>",
		At:         time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(email.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(email.sent))
	}
	msg := email.sent[0]
	if msg.To != "ops@clinic.test" {
		t.Fatalf("unexpected recipient %s", msg.To)
	}
	if !strings.Contains(msg.Subject, "João") || !strings.Contains(msg.Subject, "Clínica Vida") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "&lt;forte&gt;") {
		t.Fatalf("expected escaped html, got %q", msg.HTML)
	}
	if msg.Category != "emergency" || !msg.Urgent {
		t.Fatalf("expected urgent emergency email, got category=%q urgent=%v", msg.Category, msg.Urgent)
	}
}

func TestNotifyBookingCategory(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, "ops@clinic.test", nil)
	start := time.Date(2025, 4, 3, 13, 0, 0, 0, time.UTC)
	if err := svc.NotifyBooking(context.Background(), BookingAlert{Identity: "5511", FirstName: "Ana", Start: start, EventID: "evt-1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg := email.sent[0]
	if msg.Category != "booking" || msg.Urgent {
		t.Fatalf("unexpected booking email flags: category=%q urgent=%v", msg.Category, msg.Urgent)
	}
	if !strings.Contains(msg.Body, "evt-1") || !strings.Contains(msg.Body, "03/04/2025 13:00") {
		t.Fatalf("unexpected body %q", msg.Body)
	}
}

func TestNotifyDisabledWithoutOperator(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(email, "", nil)
	if err := svc.NotifyEmergency(context.Background(), EmergencyAlert{Identity: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatalf("expected no email")
	}
	var nilSvc *Service
	if err := nilSvc.NotifyBooking(context.Background(), BookingAlert{}); err != nil {
		t.Fatalf("nil service should be a no-op: %v", err)
	}
}

func TestNotifyBookingPropagatesError(t *testing.T) {
	svc := NewService(&mockEmailSender{callErr: errors.New("boom")}, "ops@clinic.test", nil)
	err := svc.NotifyBooking(context.Background(), BookingAlert{Identity: "x", Start: time.Now()})
	if err == nil || !strings.Contains(err.Error(), "booking email") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("ééééé", 3); got != "ééé..." {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
}
