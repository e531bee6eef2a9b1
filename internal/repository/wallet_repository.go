package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
)

// WalletRepo persists wallets and their append-only transaction history.
// Only the ledger service writes through it.
type WalletRepo struct{ db *database.DB }

func NewWalletRepo(db *database.DB) *WalletRepo { return &WalletRepo{db: db} }

// DB exposes the handle for transaction control.
func (r *WalletRepo) DB() *database.DB { return r.db }

const walletColumns = "id, user_id, balance, currency, created_at, updated_at"

func scanWallet(row *sql.Row) (model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	return w, err
}

// Ensure returns the user's wallet, creating an empty one when missing.
// Concurrent callers race on the unique user_id; the loser reads the
// winner's row.
func (r *WalletRepo) Ensure(ctx context.Context, userID uint64, currency string) (model.Wallet, error) {
	if w, err := r.GetByUser(ctx, userID); err == nil || !errors.Is(err, ErrNotFound) {
		return w, err
	}
	now := time.Now().UTC()
	_, err := r.db.Insert(ctx, r.db,
		"INSERT INTO wallets (user_id, balance, currency, created_at, updated_at) VALUES (?,?,?,?,?)",
		userID, decimal.Zero, currency, now, now)
	if err != nil && !database.IsUniqueViolation(err) {
		return model.Wallet{}, err
	}
	return r.GetByUser(ctx, userID)
}

// GetByUser fetches the wallet owned by userID.
func (r *WalletRepo) GetByUser(ctx context.Context, userID uint64) (model.Wallet, error) {
	return scanWallet(r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+walletColumns+" FROM wallets WHERE user_id=?"), userID))
}

// Get fetches a wallet by id.
func (r *WalletRepo) Get(ctx context.Context, id uint64) (model.Wallet, error) {
	return scanWallet(r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+walletColumns+" FROM wallets WHERE id=?"), id))
}

// LockTx reads the wallet and holds a write lock on it until tx ends.
func (r *WalletRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Wallet, error) {
	return scanWallet(tx.QueryRowContext(ctx,
		r.db.Rebind("SELECT "+walletColumns+" FROM wallets WHERE id=?"+r.db.ForUpdate()), id))
}

// UpdateBalanceTx overwrites the balance of a locked wallet.
func (r *WalletRepo) UpdateBalanceTx(ctx context.Context, tx *sql.Tx, id uint64, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		r.db.Rebind("UPDATE wallets SET balance=?, updated_at=? WHERE id=?"), balance, time.Now().UTC(), id)
	return err
}

// AppendTransactionTx inserts an immutable ledger entry and fills in its
// ID and CreatedAt.
func (r *WalletRepo) AppendTransactionTx(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	now := time.Now().UTC()
	id, err := r.db.Insert(ctx, tx,
		`INSERT INTO wallet_transactions (wallet_id, amount, tx_type, description, event_id, balance_after, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		t.WalletID, t.Amount, string(t.Type), t.Description, t.EventID, t.BalanceAfter, now)
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt = now
	return nil
}

// Transactions returns the wallet's ledger in application order.
func (r *WalletRepo) Transactions(ctx context.Context, walletID uint64) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT id, wallet_id, amount, tx_type, description, event_id, balance_after, created_at
		 FROM wallet_transactions WHERE wallet_id=? ORDER BY id`), walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		var (
			t      model.Transaction
			txType string
		)
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &txType, &t.Description, &t.EventID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = model.TxType(txType)
		out = append(out, t)
	}
	return out, rows.Err()
}
