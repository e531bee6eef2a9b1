package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
)

// EventRepo manages events and their administrators.
type EventRepo struct{ db *database.DB }

func NewEventRepo(db *database.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, name, description, location, starts_at, max_registrations,
	registration_deadline, price, currency, group_id, created_at`

func scanEvent(s interface{ Scan(...any) error }) (model.Event, error) {
	var e model.Event
	err := s.Scan(&e.ID, &e.Name, &e.Description, &e.Location, &e.StartsAt, &e.MaxRegistrations,
		&e.RegistrationDeadline, &e.Price, &e.Currency, &e.GroupID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// Create inserts e and fills in its ID.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
	if e.Currency == "" {
		e.Currency = "USD"
	}
	id, err := r.db.Insert(ctx, r.db,
		`INSERT INTO events (name, description, location, starts_at, max_registrations,
			registration_deadline, price, currency, group_id)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		e.Name, e.Description, e.Location, e.StartsAt.UTC(), e.MaxRegistrations,
		utcPtr(e.RegistrationDeadline), e.Price, e.Currency, e.GroupID)
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Get fetches an event by id.
func (r *EventRepo) Get(ctx context.Context, id uint64) (model.Event, error) {
	return scanEvent(r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+eventColumns+" FROM events WHERE id=?"), id))
}

// LockTx reads the event row and holds a write lock on it until tx ends.
// Admissions for the same event serialize here.
func (r *EventRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Event, error) {
	return scanEvent(tx.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+eventColumns+" FROM events WHERE id=?"+r.db.ForUpdate()), id))
}

// GetTx reads the event without locking it.
func (r *EventRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Event, error) {
	return scanEvent(tx.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+eventColumns+" FROM events WHERE id=?"), id))
}

// List returns events ordered by start time, paginated.
func (r *EventRepo) List(ctx context.Context, limit, offset int) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind("SELECT "+eventColumns+" FROM events ORDER BY starts_at, id LIMIT ? OFFSET ?"),
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddAdmin grants userID admin rights over the event.
func (r *EventRepo) AddAdmin(ctx context.Context, eventID, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind("INSERT INTO event_admins (event_id, user_id) VALUES (?,?)"), eventID, userID)
	if database.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// RemoveAdmin drops an administrator. ErrNotFound if the user was not one.
func (r *EventRepo) RemoveAdmin(ctx context.Context, eventID, userID uint64) error {
	return deleteRow(ctx, r.db, "DELETE FROM event_admins WHERE event_id=? AND user_id=?", eventID, userID)
}

// AdminIDsTx lists the event's administrators.
func (r *EventRepo) AdminIDsTx(ctx context.Context, q database.Querier, eventID uint64) ([]uint64, error) {
	return queryIDs(ctx, q, r.db.Rebind("SELECT user_id FROM event_admins WHERE event_id=? ORDER BY user_id"), eventID)
}

// AdminIDs is AdminIDsTx outside a transaction.
func (r *EventRepo) AdminIDs(ctx context.Context, eventID uint64) ([]uint64, error) {
	return r.AdminIDsTx(ctx, r.db, eventID)
}

func deleteRow(ctx context.Context, db *database.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func queryIDs(ctx context.Context, q database.Querier, query string, args ...any) ([]uint64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
