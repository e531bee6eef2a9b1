package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/repository"
)

// AuditLog appends one delivery_logs row per delivery attempt. Record
// never fails from the caller's point of view: a write error is logged
// and dropped so it cannot mask the outcome being recorded.
type AuditLog struct {
	repo    *repository.DeliveryLogRepo
	log     *slog.Logger
	timeout time.Duration
}

func NewAuditLog(repo *repository.DeliveryLogRepo, log *slog.Logger) *AuditLog {
	return &AuditLog{repo: repo, log: log, timeout: 3 * time.Second}
}

// Record stores the outcome of one attempt. outcome nil means success.
func (a *AuditLog) Record(ctx context.Context, registrationID *uint64, recipient, subject string, outcome error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.ErrorContext(ctx, "delivery audit panicked", "panic", r)
		}
	}()
	entry := model.DeliveryLog{
		RegistrationID: registrationID,
		Recipient:      recipient,
		Subject:        subject,
		Success:        outcome == nil,
	}
	if outcome != nil {
		msg := outcome.Error()
		entry.ErrorText = &msg
	}
	// The request may already be gone; the audit row must still land.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.repo.Create(wctx, &entry); err != nil {
		a.log.ErrorContext(ctx, "delivery audit write failed",
			"registration_id", registrationID, "recipient", recipient, "outcome_ok", entry.Success, "err", err)
		return
	}
	if outcome != nil {
		a.log.WarnContext(ctx, "delivery attempt failed",
			"registration_id", registrationID, "recipient", recipient, "err", outcome)
	}
}

// ForEvent lists the audit trail for an event's registrations.
func (a *AuditLog) ForEvent(ctx context.Context, eventID uint64) ([]model.DeliveryLog, error) {
	return a.repo.ListByEvent(ctx, eventID)
}
