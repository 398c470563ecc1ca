package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

// EmergencyAlert describes a conversation that tripped the emergency path.
type EmergencyAlert struct {
	Identity   string
	TenantName string
	FirstName  string
	Message    string
	At         time.Time
}

// BookingAlert describes a consultation created by the assistant.
type BookingAlert struct {
	Identity   string
	TenantName string
	FirstName  string
	Start      time.Time
	EventID    string
	Summary    string
}

// Service sends operator notifications. A nil Service or an empty operator
// address disables it.
type Service struct {
	email    EmailSender
	operator string
	logger   *logging.Logger
}

func NewService(email EmailSender, operatorEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, operator: strings.TrimSpace(operatorEmail), logger: logger}
}

func (s *Service) enabled() bool {
	return s != nil && s.email != nil && s.operator != ""
}

// NotifyEmergency emails the operator. Called once per emergency episode.
func (s *Service) NotifyEmergency(ctx context.Context, alert EmergencyAlert) error {
	if !s.enabled() {
		return nil
	}
	who := displayName(alert.FirstName, alert.Identity)
	subject := fmt.Sprintf("[URGENTE] Possível emergência - %s", who)
	if alert.TenantName != "" {
		subject += " (" + alert.TenantName + ")"
	}
	body := fmt.Sprintf("Contato: %s\nIdentidade: %s\nHorário: %s\n\nMensagem:\n%s\n",
		who, alert.Identity, alert.At.Format(time.RFC3339), truncate(alert.Message, 1000))
	htmlBody := fmt.Sprintf("<p><strong>Contato:</strong> %s<br><strong>Identidade:</strong> %s<br><strong>Horário:</strong> %s</p><blockquote>%s</blockquote>",
		html.EscapeString(who), html.EscapeString(alert.Identity), alert.At.Format(time.RFC3339), html.EscapeString(truncate(alert.Message, 1000)))

	if err := s.email.Send(ctx, EmailMessage{
		To:       s.operator,
		Subject:  subject,
		Body:     body,
		HTML:     htmlBody,
		Category: "emergency",
		Urgent:   true,
	}); err != nil {
		return fmt.Errorf("notify: emergency email: %w", err)
	}
	s.logger.Info("emergency notification sent", "identity", alert.Identity)
	return nil
}

// NotifyBooking emails the operator about a new consultation.
func (s *Service) NotifyBooking(ctx context.Context, alert BookingAlert) error {
	if !s.enabled() {
		return nil
	}
	who := displayName(alert.FirstName, alert.Identity)
	subject := fmt.Sprintf("Nova consulta agendada - %s", who)
	body := fmt.Sprintf("Contato: %s\nIdentidade: %s\nInício: %s\nEvento: %s\n\n%s\n",
		who, alert.Identity, alert.Start.Format("02/01/2006 15:04 MST"), alert.EventID, truncate(alert.Summary, 2000))
	if err := s.email.Send(ctx, EmailMessage{To: s.operator, Subject: subject, Body: body, Category: "booking"}); err != nil {
		return fmt.Errorf("notify: booking email: %w", err)
	}
	return nil
}

func displayName(name, identity string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return identity
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
