// Package notification composes and delivers email about approval activity.
// Delivery happens off the request path through an Outbox.
package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"movementflow/internal/config"

	"go.uber.org/zap"
)

// Message is one queued email.
type Message struct {
	Kind    string // metric label, e.g. "approved"
	To      []string
	Subject string
	HTML    string
}

// Sender delivers an HTML email to every recipient.
type Sender interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

// NewSender builds the sender selected by cfg.Driver.
func NewSender(cfg config.NotificationConfig, log *zap.Logger) Sender {
	if cfg.Driver == "smtp" {
		return NewSMTPSender(cfg.SMTP)
	}
	return NewLogSender(log)
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, to []string, subject, _ string) error {
	s.log.Info("email (log driver)",
		zap.Strings("to", to),
		zap.String("subject", subject))
	return nil
}

// SMTPSender relays HTML mail through an SMTP server.
type SMTPSender struct {
	cfg  config.SMTPConfig
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	d := &net.Dialer{Timeout: 15 * time.Second}
	return &SMTPSender{cfg: cfg, dial: func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}}
}

var errNoRecipients = errors.New("no recipients")

func (s *SMTPSender) Send(ctx context.Context, recipients []string, subject, html string) error {
	to := cleanRecipients(recipients)
	if len(to) == 0 {
		return errNoRecipients
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if s.cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	// Relays that accept by IP need no credentials.
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(buildMIME(s.cfg.From, to, subject, html)); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}

func cleanRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		key := strings.ToLower(r)
		if r == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func buildMIME(from string, to []string, subject, html string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + encodeHeader(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(html, "\n", "\r\n"))
	return []byte(b.String())
}

// encodeHeader uses RFC 2047 when the value is not plain ASCII.
func encodeHeader(v string) string {
	for _, r := range v {
		if r > 127 {
			return mime.QEncoding.Encode("UTF-8", v)
		}
	}
	return v
}
