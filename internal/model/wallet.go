package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's balance. The balance always equals the sum of the
// wallet's transaction amounts.
type Wallet struct {
	ID        uint64
	UserID    uint64
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TxType tags a ledger entry.
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxPayment    TxType = "payment"
	TxRefund     TxType = "refund"
	TxWithdrawal TxType = "withdrawal"
)

// Valid reports whether t is one of the known ledger entry kinds.
func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxPayment, TxRefund, TxWithdrawal:
		return true
	}
	return false
}

// Outgoing reports whether entries of this kind carry a negative amount.
func (t TxType) Outgoing() bool { return t == TxPayment || t == TxWithdrawal }

// Transaction is an immutable ledger entry. Amount is signed: negative for
// payments and withdrawals, positive for deposits and refunds.
type Transaction struct {
	ID           uint64
	WalletID     uint64
	Amount       decimal.Decimal
	Type         TxType
	Description  string
	EventID      *uint64
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}
