package email

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/healthbridge/internal/config"
	"github.com/jwalitptl/healthbridge/internal/model"
)

type Service interface {
	SendOutbreakAlerts(ctx context.Context, alerts []model.OutbreakAlert) error
	SendCustom(ctx context.Context, to []string, subject string, content string) error
}

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPService struct {
	sender     Sender
	from       string
	recipients []string
}

func NewSMTPService(cfg config.AlertsConfig) *SMTPService {
	return NewService(gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.Password), cfg.From, cfg.Recipients)
}

func NewService(sender Sender, from string, recipients []string) *SMTPService {
	return &SMTPService{
		sender:     sender,
		from:       from,
		recipients: recipients,
	}
}

func (s *SMTPService) SendOutbreakAlerts(ctx context.Context, alerts []model.OutbreakAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[HealthBridge] %d critical outbreak alert(s)", len(alerts))
	if len(alerts) == 1 {
		subject = "[HealthBridge] Critical outbreak alert: " + alerts[0].Disease
	}
	return s.SendCustom(ctx, s.recipients, subject, renderAlerts(alerts))
}

func (s *SMTPService) SendCustom(ctx context.Context, to []string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func renderAlerts(alerts []model.OutbreakAlert) string {
	var b strings.Builder
	b.WriteString("The following diseases crossed the critical surveillance threshold:\n\n")
	for _, a := range alerts {
		fmt.Fprintf(&b, "- %s\n", a.Message)
		fmt.Fprintf(&b, "  recent cases: %d, baseline average: %.1f", a.RecentCases, a.BaselineAvg)
		if a.IncreaseRatio != nil {
			fmt.Fprintf(&b, ", ratio: %.2f", *a.IncreaseRatio)
		}
		b.WriteString("\n")
	}
	return b.String()
}
