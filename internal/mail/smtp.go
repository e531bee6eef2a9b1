package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/iliyamo/evento/internal/config"
)

// SMTPSender delivers messages through an SMTP relay. The context deadline
// bounds the whole exchange, dial included.
type SMTPSender struct {
	Host string
	Port int
	From string
	Auth smtp.Auth
	Now  func() time.Time

	// TLSConfig is used for STARTTLS. ServerName defaults to Host.
	TLSConfig *tls.Config
}

// NewSMTPSender builds a sender from MAIL_*/SMTP_* settings. PLAIN auth is
// used only when a user is configured.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	s := &SMTPSender{Host: cfg.SMTPHost, Port: cfg.SMTPPort, From: cfg.From, Now: time.Now}
	if cfg.SMTPUser != "" {
		s.Auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}
	return s
}

// Send implements the mailer contract.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	raw, err := Build(s.From, m, s.Now())
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig()); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.Auth != nil {
		if err := c.Auth(s.Auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(m.To); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	if s.TLSConfig == nil {
		return &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	}
	cfg := s.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = s.Host
	}
	return cfg
}

// LogSender writes messages to the application log instead of sending
// them. It is the development transport.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, m Message) error {
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Filename)
	}
	s.Log.InfoContext(ctx, "mail (log transport)", "to", m.To, "subject", m.Subject, "attachments", names)
	return nil
}
