package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
)

// GroupRepo manages distribution groups and their administrators.
type GroupRepo struct{ db *database.DB }

func NewGroupRepo(db *database.DB) *GroupRepo { return &GroupRepo{db: db} }

// Create inserts g and records the creator as its first admin.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		id, err := r.db.Insert(ctx, tx,
			"INSERT INTO distribution_groups (name, description, created_by) VALUES (?,?,?)",
			g.Name, g.Description, g.CreatedBy)
		if err != nil {
			return err
		}
		g.ID = id
		if g.CreatedBy == nil {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			r.db.Rebind("INSERT INTO group_admins (group_id, user_id) VALUES (?,?)"), id, *g.CreatedBy)
		return err
	})
}

// Get fetches a group by id.
func (r *GroupRepo) Get(ctx context.Context, id uint64) (model.Group, error) {
	var g model.Group
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT id, name, description, created_by, created_at FROM distribution_groups WHERE id=?"), id).
		Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	return g, err
}

// AddAdmin grants userID admin rights over the group.
func (r *GroupRepo) AddAdmin(ctx context.Context, groupID, userID uint64) error {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind("INSERT INTO group_admins (group_id, user_id) VALUES (?,?)"), groupID, userID)
	if database.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// RemoveAdmin drops a group administrator. ErrNotFound if the user was not one.
func (r *GroupRepo) RemoveAdmin(ctx context.Context, groupID, userID uint64) error {
	return deleteRow(ctx, r.db, "DELETE FROM group_admins WHERE group_id=? AND user_id=?", groupID, userID)
}

// AdminIDsTx lists the group's administrators.
func (r *GroupRepo) AdminIDsTx(ctx context.Context, q database.Querier, groupID uint64) ([]uint64, error) {
	return queryIDs(ctx, q, r.db.Rebind("SELECT user_id FROM group_admins WHERE group_id=? ORDER BY user_id"), groupID)
}

// AdminIDs is AdminIDsTx outside a transaction.
func (r *GroupRepo) AdminIDs(ctx context.Context, groupID uint64) ([]uint64, error) {
	return r.AdminIDsTx(ctx, r.db, groupID)
}
