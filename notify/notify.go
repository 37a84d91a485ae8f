// Package notify tells operators about batch failures that need a human:
// policy gaps, corrupt schedules and failed runs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Alert is one operator-facing event.
type Alert struct {
	Subject string
	RunID   string
	LoanID  string
	AsOf    string
	Err     error
}

func (a Alert) body() string {
	var b strings.Builder
	b.WriteString(a.Subject)
	b.WriteString("\n\n")
	if a.RunID != "" {
		fmt.Fprintf(&b, "Run:   %s\n", a.RunID)
	}
	if a.LoanID != "" {
		fmt.Fprintf(&b, "Loan:  %s\n", a.LoanID)
	}
	if a.AsOf != "" {
		fmt.Fprintf(&b, "As of: %s\n", a.AsOf)
	}
	if a.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", a.Err)
	}
	return b.String()
}

type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// =============================================================================
// LOG ALERTER
// =============================================================================

type LogAlerter struct {
	Logger logrus.FieldLogger
}

func NewLogAlerter(logger logrus.FieldLogger) *LogAlerter {
	return &LogAlerter{Logger: logger}
}

func (l *LogAlerter) Alert(_ context.Context, a Alert) error {
	entry := l.Logger.WithFields(logrus.Fields{
		"run_id":  a.RunID,
		"loan_id": a.LoanID,
		"as_of":   a.AsOf,
	})
	if a.Err != nil {
		entry = entry.WithError(a.Err)
	}
	entry.Error(a.Subject)
	return nil
}

// =============================================================================
// EMAIL ALERTER
// =============================================================================

// EmailAlerter sends alerts over SMTP.
type EmailAlerter struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	To       []string

	Logger logrus.FieldLogger

	// send is replaced in tests.
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

func NewEmailAlerter(addr, username, password, from string, to []string, logger logrus.FieldLogger) *EmailAlerter {
	return &EmailAlerter{
		Addr:     addr,
		Username: username,
		Password: password,
		From:     from,
		To:       to,
		Logger:   logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (s *EmailAlerter) Alert(_ context.Context, a Alert) error {
	if len(s.To) == 0 {
		return errors.New("email alerter has no recipients")
	}

	e := email.NewEmail()
	e.From = s.From
	e.To = s.To
	e.Subject = "[loan-engine] " + a.Subject
	e.Text = []byte(a.body())

	var auth smtp.Auth
	if s.Username != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			host = s.Addr
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	if err := s.send(e, s.Addr, auth); err != nil {
		s.Logger.Errorf("Failed to send alert to %v: %v", s.To, err)
		return fmt.Errorf("failed to send alert: %w", err)
	}
	s.Logger.Infof("Alert sent to %v: %s", s.To, e.Subject)
	return nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi delivers to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
