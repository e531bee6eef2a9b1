package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/repository"
)

// Ledger is the only writer of wallet balances. Every mutation locks the
// wallet row, applies a signed delta, and appends exactly one Transaction
// whose BalanceAfter equals the new balance, all in one transaction.
type Ledger struct {
	wallets  *repository.WalletRepo
	log      *slog.Logger
	currency string
	retries  int
}

// NewLedger builds a Ledger. New wallets are opened in currency.
func NewLedger(wallets *repository.WalletRepo, currency string, log *slog.Logger) *Ledger {
	if currency == "" {
		currency = "USD"
	}
	return &Ledger{wallets: wallets, log: log, currency: currency, retries: 3}
}

// EnsureWallet provisions the user's wallet if it does not exist yet. It
// is idempotent and runs in its own statement, never inside a debit.
func (l *Ledger) EnsureWallet(ctx context.Context, userID uint64) (model.Wallet, error) {
	w, err := l.wallets.Ensure(ctx, userID, l.currency)
	if err != nil {
		return w, fmt.Errorf("ensure wallet: %w", err)
	}
	return w, nil
}

// Wallet fetches a wallet by id.
func (l *Ledger) Wallet(ctx context.Context, walletID uint64) (model.Wallet, error) {
	w, err := l.wallets.Get(ctx, walletID)
	if errors.Is(err, repository.ErrNotFound) {
		return w, ErrWalletNotFound
	}
	return w, err
}

// Transactions returns the wallet's ledger in application order.
func (l *Ledger) Transactions(ctx context.Context, walletID uint64) ([]model.Transaction, error) {
	return l.wallets.Transactions(ctx, walletID)
}

// ValidAmount reports whether d is a positive amount in whole cents.
// Balances are stored with two decimal places, so anything finer would be
// rounded by the database and break the ledger sum.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}

// DebitTx takes a payment for an event inside the caller's transaction.
// The caller commits or rolls back; on InsufficientFundsError nothing has
// been written.
func (l *Ledger) DebitTx(ctx context.Context, tx *sql.Tx, walletID uint64, amount decimal.Decimal, eventID *uint64, description string) (model.Transaction, error) {
	if !ValidAmount(amount) {
		return model.Transaction{}, ErrInvalidAmount
	}
	return l.applyTx(ctx, tx, walletID, amount.Neg(), model.TxPayment, description, eventID)
}

// Debit is DebitTx in its own transaction.
func (l *Ledger) Debit(ctx context.Context, walletID uint64, amount decimal.Decimal, eventID *uint64, description string) (model.Transaction, error) {
	return l.apply(ctx, walletID, amount, model.TxPayment, description, eventID)
}

// Withdraw moves money out of the wallet.
func (l *Ledger) Withdraw(ctx context.Context, walletID uint64, amount decimal.Decimal, description string) (model.Transaction, error) {
	return l.apply(ctx, walletID, amount, model.TxWithdrawal, description, nil)
}

// Credit adds a deposit or refund. Any other type is rejected.
func (l *Ledger) Credit(ctx context.Context, walletID uint64, amount decimal.Decimal, typ model.TxType, description string, eventID *uint64) (model.Transaction, error) {
	if typ != model.TxDeposit && typ != model.TxRefund {
		return model.Transaction{}, ErrInvalidTxType
	}
	return l.apply(ctx, walletID, amount, typ, description, eventID)
}

func (l *Ledger) apply(ctx context.Context, walletID uint64, amount decimal.Decimal, typ model.TxType, description string, eventID *uint64) (model.Transaction, error) {
	if !ValidAmount(amount) {
		return model.Transaction{}, ErrInvalidAmount
	}
	delta := amount
	if typ.Outgoing() {
		delta = amount.Neg()
	}
	var t model.Transaction
	db := l.wallets.DB()
	err := withRetry(ctx, l.log, "ledger."+string(typ), l.retries, func() error {
		return db.InTx(ctx, func(tx *sql.Tx) error {
			var err error
			t, err = l.applyTx(ctx, tx, walletID, delta, typ, description, eventID)
			return err
		})
	})
	if err != nil {
		return model.Transaction{}, err
	}
	l.log.InfoContext(ctx, "ledger entry applied",
		"wallet_id", walletID, "type", typ, "amount", t.Amount.StringFixed(2), "balance_after", t.BalanceAfter.StringFixed(2))
	return t, nil
}

// applyTx is the single balance mutation primitive.
func (l *Ledger) applyTx(ctx context.Context, tx *sql.Tx, walletID uint64, delta decimal.Decimal, typ model.TxType, description string, eventID *uint64) (model.Transaction, error) {
	w, err := l.wallets.LockTx(ctx, tx, walletID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Transaction{}, ErrWalletNotFound
	}
	if err != nil {
		return model.Transaction{}, fmt.Errorf("lock wallet: %w", err)
	}
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return model.Transaction{}, &InsufficientFundsError{Required: delta.Neg(), Available: w.Balance, Currency: w.Currency}
	}
	if err := l.wallets.UpdateBalanceTx(ctx, tx, w.ID, next); err != nil {
		return model.Transaction{}, fmt.Errorf("update balance: %w", err)
	}
	t := model.Transaction{
		WalletID:     w.ID,
		Amount:       delta,
		Type:         typ,
		Description:  description,
		EventID:      eventID,
		BalanceAfter: next,
	}
	if err := l.wallets.AppendTransactionTx(ctx, tx, &t); err != nil {
		return model.Transaction{}, fmt.Errorf("append transaction: %w", err)
	}
	return t, nil
}

// Reconciliation compares a wallet's balance with its ledger.
type Reconciliation struct {
	WalletID   uint64
	Balance    decimal.Decimal
	LedgerSum  decimal.Decimal
	Entries    int
	Consistent bool
	Problems   []string
}

// Reconcile replays the ledger and checks that every BalanceAfter matches
// the running sum, that the running sum never dips below zero and that
// the final sum equals the stored balance.
func (l *Ledger) Reconcile(ctx context.Context, walletID uint64) (Reconciliation, error) {
	w, err := l.Wallet(ctx, walletID)
	if err != nil {
		return Reconciliation{}, err
	}
	txs, err := l.wallets.Transactions(ctx, walletID)
	if err != nil {
		return Reconciliation{}, err
	}
	rec := Reconciliation{WalletID: walletID, Balance: w.Balance, LedgerSum: decimal.Zero, Entries: len(txs)}
	for _, t := range txs {
		rec.LedgerSum = rec.LedgerSum.Add(t.Amount)
		if !t.BalanceAfter.Equal(rec.LedgerSum) {
			rec.Problems = append(rec.Problems, fmt.Sprintf("transaction %d: balance_after %s, running sum %s",
				t.ID, t.BalanceAfter.StringFixed(2), rec.LedgerSum.StringFixed(2)))
		}
		if rec.LedgerSum.IsNegative() {
			rec.Problems = append(rec.Problems, fmt.Sprintf("transaction %d: running sum negative", t.ID))
		}
	}
	if !rec.LedgerSum.Equal(w.Balance) {
		rec.Problems = append(rec.Problems, fmt.Sprintf("balance %s != ledger sum %s",
			w.Balance.StringFixed(2), rec.LedgerSum.StringFixed(2)))
	}
	rec.Consistent = len(rec.Problems) == 0
	return rec, nil
}
