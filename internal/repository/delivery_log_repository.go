package repository

import (
	"context"
	"time"

	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
)

// DeliveryLogRepo appends to and reads the delivery audit trail.
type DeliveryLogRepo struct{ db *database.DB }

func NewDeliveryLogRepo(db *database.DB) *DeliveryLogRepo { return &DeliveryLogRepo{db: db} }

// Create appends l and fills in its ID and CreatedAt.
func (r *DeliveryLogRepo) Create(ctx context.Context, l *model.DeliveryLog) error {
	now := time.Now().UTC()
	id, err := r.db.Insert(ctx, r.db,
		"INSERT INTO delivery_logs (registration_id, recipient, subject, success, error_text, created_at) VALUES (?,?,?,?,?,?)",
		l.RegistrationID, l.Recipient, l.Subject, l.Success, l.ErrorText, now)
	if err != nil {
		return err
	}
	l.ID = id
	l.CreatedAt = now
	return nil
}

// ListByRegistration returns the attempts recorded for one registration.
func (r *DeliveryLogRepo) ListByRegistration(ctx context.Context, registrationID uint64) ([]model.DeliveryLog, error) {
	return r.list(ctx, `SELECT id, registration_id, recipient, subject, success, error_text, created_at
		FROM delivery_logs WHERE registration_id=? ORDER BY id`, registrationID)
}

// ListByEvent returns the attempts for every registration of an event.
func (r *DeliveryLogRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.DeliveryLog, error) {
	return r.list(ctx, `SELECT l.id, l.registration_id, l.recipient, l.subject, l.success, l.error_text, l.created_at
		FROM delivery_logs l JOIN registrations g ON g.id = l.registration_id
		WHERE g.event_id=? ORDER BY l.id`, eventID)
}

func (r *DeliveryLogRepo) list(ctx context.Context, query string, args ...any) ([]model.DeliveryLog, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.DeliveryLog, 0)
	for rows.Next() {
		var l model.DeliveryLog
		if err := rows.Scan(&l.ID, &l.RegistrationID, &l.Recipient, &l.Subject, &l.Success, &l.ErrorText, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
