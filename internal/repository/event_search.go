package repository

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
)

// EventSearchQuery defines filters & pagination for searching events.
type EventSearchQuery struct {
	Name       string
	Location   string
	GroupID    *uint64
	Free       *bool  // true: price = 0, false: price > 0
	TimeFilter string // "upcoming" (default), "open", "any"
	Page       int
	PageSize   int
	Now        time.Time
}

// Search returns one page of matching events and the total match count.
// "open" keeps events whose registration deadline has not passed.
func (r *EventRepo) Search(ctx context.Context, q EventSearchQuery) ([]model.Event, int64, error) {
	where := []string{}
	args := []any{}
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	switch strings.ToLower(q.TimeFilter) {
	case "any":
	case "open":
		where = append(where, "starts_at >= ?", "(registration_deadline IS NULL OR registration_deadline >= ?)")
		args = append(args, now, now)
	default:
		where = append(where, "starts_at >= ?")
		args = append(args, now)
	}

	if q.Name != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Name)+"%")
	}
	if q.Location != "" {
		where = append(where, "LOWER(location) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Location)+"%")
	}
	if q.GroupID != nil {
		where = append(where, "group_id = ?")
		args = append(args, *q.GroupID)
	}
	if q.Free != nil {
		// sqlite keeps prices as exact text
		price := "price"
		if r.db.Dialect == database.SQLite {
			price = "CAST(price AS REAL)"
		}
		if *q.Free {
			where = append(where, price+" = 0")
		} else {
			where = append(where, price+" > 0")
		}
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, r.db.Rebind("SELECT COUNT(*) FROM events WHERE "+cond), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	dataArgs := append(append([]any{}, args...), q.PageSize, (q.Page-1)*q.PageSize)
	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind("SELECT "+eventColumns+" FROM events WHERE "+cond+" ORDER BY starts_at, id LIMIT ? OFFSET ?"),
		dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Event, 0, q.PageSize)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
