package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
)

// RegistrationRepo persists registrations and their credential state.
type RegistrationRepo struct{ db *database.DB }

func NewRegistrationRepo(db *database.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

const registrationColumns = "id, user_id, event_id, entry_code, qr_png, used, used_at, validated_by, created_at"

func scanRegistration(s interface{ Scan(...any) error }) (model.Registration, error) {
	var g model.Registration
	err := s.Scan(&g.ID, &g.UserID, &g.EventID, &g.EntryCode, &g.QRPNG, &g.Used, &g.UsedAt, &g.ValidatedBy, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	return g, err
}

// CountByEventTx counts registrations for an event. Capacity is derived
// from this count rather than a stored counter.
func (r *RegistrationRepo) CountByEventTx(ctx context.Context, tx *sql.Tx, eventID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM registrations WHERE event_id=?"), eventID).Scan(&n)
	return n, err
}

// CreateTx inserts a registration with used=false and fills in ID and
// CreatedAt. A duplicate entry code surfaces as a unique violation.
func (r *RegistrationRepo) CreateTx(ctx context.Context, tx *sql.Tx, g *model.Registration) error {
	now := time.Now().UTC()
	id, err := r.db.Insert(ctx, tx,
		"INSERT INTO registrations (user_id, event_id, entry_code, used, created_at) VALUES (?,?,?,?,?)",
		g.UserID, g.EventID, g.EntryCode, false, now)
	if err != nil {
		return err
	}
	g.ID = id
	g.Used = false
	g.CreatedAt = now
	return nil
}

// Get fetches a registration by id.
func (r *RegistrationRepo) Get(ctx context.Context, id uint64) (model.Registration, error) {
	return scanRegistration(r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+registrationColumns+" FROM registrations WHERE id=?"), id))
}

// LockByCodeTx reads the registration with the given entry code and holds
// a write lock on it until tx ends.
func (r *RegistrationRepo) LockByCodeTx(ctx context.Context, tx *sql.Tx, code string) (model.Registration, error) {
	return scanRegistration(tx.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+registrationColumns+" FROM registrations WHERE entry_code=?"+r.db.ForUpdate()), code))
}

// LockByIDTx is LockByCodeTx keyed by id.
func (r *RegistrationRepo) LockByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Registration, error) {
	return scanRegistration(tx.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+registrationColumns+" FROM registrations WHERE id=?"+r.db.ForUpdate()), id))
}

// MarkUsedTx flips used from false to true. It reports false when the row
// was already used, so a lost race can never flip it twice.
func (r *RegistrationRepo) MarkUsedTx(ctx context.Context, tx *sql.Tx, id, validatorID uint64, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		r.db.Rebind("UPDATE registrations SET used=?, used_at=?, validated_by=? WHERE id=? AND used=?"),
		true, at.UTC(), validatorID, id, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AttachCredential stores the artifact only if none is stored yet. It
// reports whether this call wrote it; false means an earlier artifact
// stays in place.
func (r *RegistrationRepo) AttachCredential(ctx context.Context, id uint64, png []byte) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind("UPDATE registrations SET qr_png=? WHERE id=? AND qr_png IS NULL"), png, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListByUser returns the user's registrations, newest first.
func (r *RegistrationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Registration, error) {
	return r.list(ctx, "SELECT "+registrationColumns+" FROM registrations WHERE user_id=? ORDER BY id DESC", userID)
}

// ListByEvent returns the event's registrations in admission order.
func (r *RegistrationRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Registration, error) {
	return r.list(ctx, "SELECT "+registrationColumns+" FROM registrations WHERE event_id=? ORDER BY id", eventID)
}

// CountByEvent is CountByEventTx outside a transaction.
func (r *RegistrationRepo) CountByEvent(ctx context.Context, eventID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM registrations WHERE event_id=?"), eventID).Scan(&n)
	return n, err
}

func (r *RegistrationRepo) list(ctx context.Context, query string, args ...any) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Registration, 0)
	for rows.Next() {
		g, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
