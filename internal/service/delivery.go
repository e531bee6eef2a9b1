package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/evento/internal/mail"
	"github.com/iliyamo/evento/internal/model"
)

// Mailer is the outbound mail transport. Implementations: mail.SMTPSender,
// mail.LogSender and queue.Publisher.
type Mailer interface {
	Send(ctx context.Context, m mail.Message) error
}

// Delivery sends a ticket once and records the outcome, whatever it is.
// There is no retry loop; a slow transport is cut off by timeout.
type Delivery struct {
	mailer  Mailer
	audit   *AuditLog
	log     *slog.Logger
	timeout time.Duration
	baseURL string
}

func NewDelivery(m Mailer, audit *AuditLog, timeout time.Duration, baseURL string, log *slog.Logger) *Delivery {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Delivery{mailer: m, audit: audit, log: log, timeout: timeout, baseURL: strings.TrimRight(baseURL, "/")}
}

// SendTicket renders the ticket PDF for reg and sends it to the holder.
// The returned error is informational; it has already been audited.
func (d *Delivery) SendTicket(ctx context.Context, reg model.Registration, ev model.Event, holder model.User) error {
	subject := fmt.Sprintf("Your ticket for %s", ev.Name)
	regID := reg.ID
	to := strings.TrimSpace(holder.Email)
	if to == "" {
		d.audit.Record(ctx, &regID, "", subject, ErrNoContactAddress)
		return ErrNoContactAddress
	}

	pdf, err := renderTicket(reg, ev, holder)
	if err != nil {
		err = fmt.Errorf("render ticket: %w", err)
		d.audit.Record(ctx, &regID, to, subject, err)
		return err
	}

	msg := mail.Message{
		RegistrationID: &regID,
		To:             to,
		Subject:        subject,
		Body:           d.body(reg, ev, holder),
		Attachments: []mail.Attachment{
			{Filename: fmt.Sprintf("ticket-%d.pdf", reg.ID), ContentType: "application/pdf", Data: pdf},
		},
	}
	if reg.HasCredential() {
		msg.Attachments = append(msg.Attachments, mail.Attachment{
			Filename: fmt.Sprintf("qr-%d.png", reg.ID), ContentType: "image/png", Data: reg.QRPNG,
		})
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err = d.mailer.Send(sendCtx, msg)
	d.audit.Record(ctx, &regID, to, subject, err)
	return err
}

func (d *Delivery) body(reg model.Registration, ev model.Event, holder model.User) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", holderName(holder))
	fmt.Fprintf(&b, "you are registered for %s", ev.Name)
	if !ev.StartsAt.IsZero() {
		fmt.Fprintf(&b, " on %s", ev.StartsAt.UTC().Format("Mon 02 Jan 2006 15:04 MST"))
	}
	if ev.Location != "" {
		fmt.Fprintf(&b, " at %s", ev.Location)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Entry code: %s\n", reg.EntryCode)
	if d.baseURL != "" {
		fmt.Fprintf(&b, "Ticket: %s/v1/registrations/%d/ticket\n", d.baseURL, reg.ID)
	}
	b.WriteString("\nYour ticket is attached. It can be scanned once at the entrance.\n")
	return b.String()
}

func holderName(u model.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
