package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/service"
)

// WalletHandler exposes the ledger. Owners see and fund their own wallet;
// staff may act on any wallet and are the only ones who refund.
type WalletHandler struct {
	Ledger *service.Ledger
	Log    *slog.Logger
}

func NewWalletHandler(l *service.Ledger, log *slog.Logger) *WalletHandler {
	return &WalletHandler{Ledger: l, Log: log}
}

type amountReq struct {
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	EventID     *uint64          `json:"event_id"`
}

type walletResp struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"user_id"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

type txResp struct {
	ID           uint64    `json:"id"`
	WalletID     uint64    `json:"wallet_id"`
	Amount       string    `json:"amount"`
	Type         string    `json:"transaction_type"`
	Description  string    `json:"description"`
	EventID      *uint64   `json:"event_id,omitempty"`
	BalanceAfter string    `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

func walletView(w model.Wallet) walletResp {
	return walletResp{ID: w.ID, UserID: w.UserID, Balance: w.Balance.StringFixed(2), Currency: w.Currency, UpdatedAt: w.UpdatedAt}
}

func txView(t model.Transaction) txResp {
	return txResp{
		ID:           t.ID,
		WalletID:     t.WalletID,
		Amount:       t.Amount.StringFixed(2),
		Type:         string(t.Type),
		Description:  t.Description,
		EventID:      t.EventID,
		BalanceAfter: t.BalanceAfter.StringFixed(2),
		CreatedAt:    t.CreatedAt,
	}
}

// owned loads the wallet at :id if the caller owns it or is staff.
func (h *WalletHandler) owned(c echo.Context, p authz.Principal) (model.Wallet, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return model.Wallet{}, false
	}
	w, err := h.Ledger.Wallet(c.Request().Context(), id)
	if err != nil {
		_ = writeError(c, h.Log, err)
		return w, false
	}
	if w.UserID != p.UserID && !p.Staff {
		_ = writeError(c, h.Log, service.ErrNotAuthorized)
		return w, false
	}
	return w, true
}

func bindAmount(c echo.Context) (amountReq, bool) {
	var req amountReq
	if err := c.Bind(&req); err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_amount", "message": "amount must be a decimal number"})
		return req, false
	}
	if req.Amount == nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_amount", "message": "amount is required"})
		return req, false
	}
	if !req.Amount.IsPositive() {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_amount", "message": "amount must be greater than 0"})
		return req, false
	}
	if !service.ValidAmount(*req.Amount) {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_amount", "message": "amount must have at most 2 decimal places"})
		return req, false
	}
	return req, true
}

// Mine handles GET /v1/wallets/mine, provisioning the wallet on first use.
func (h *WalletHandler) Mine(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	w, err := h.Ledger.EnsureWallet(c.Request().Context(), p.UserID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, walletView(w))
}

// AddFunds handles POST /v1/wallets/:id/add_funds.
func (h *WalletHandler) AddFunds(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	w, ok := h.owned(c, p)
	if !ok {
		return nil
	}
	req, ok := bindAmount(c)
	if !ok {
		return nil
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = "Deposit"
	}
	return h.credit(c, w, *req.Amount, model.TxDeposit, desc, nil)
}

// Refund handles POST /v1/wallets/:id/refund (staff only). It is the
// manual compensation path for admissions that need to be reversed.
func (h *WalletHandler) Refund(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	w, ok := h.owned(c, p)
	if !ok {
		return nil
	}
	req, ok := bindAmount(c)
	if !ok {
		return nil
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = "Refund"
	}
	h.Log.InfoContext(c.Request().Context(), "staff refund", "wallet_id", w.ID, "staff_id", p.UserID, "amount", req.Amount.String())
	return h.credit(c, w, *req.Amount, model.TxRefund, desc, req.EventID)
}

// Withdraw handles POST /v1/wallets/:id/withdraw (staff only): a cash-out
// recorded as an outgoing withdrawal entry.
func (h *WalletHandler) Withdraw(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	w, ok := h.owned(c, p)
	if !ok {
		return nil
	}
	req, ok := bindAmount(c)
	if !ok {
		return nil
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = "Withdrawal"
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	t, err := h.Ledger.Withdraw(ctx, w.ID, *req.Amount, desc)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.InfoContext(ctx, "staff withdrawal", "wallet_id", w.ID, "staff_id", p.UserID, "amount", t.Amount.StringFixed(2))
	return c.JSON(http.StatusOK, echo.Map{
		"new_balance": t.BalanceAfter.StringFixed(2),
		"transaction": txView(t),
	})
}

func (h *WalletHandler) credit(c echo.Context, w model.Wallet, amount decimal.Decimal, typ model.TxType, desc string, eventID *uint64) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	t, err := h.Ledger.Credit(ctx, w.ID, amount, typ, desc, eventID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"new_balance": t.BalanceAfter.StringFixed(2),
		"transaction": txView(t),
	})
}

// Transactions handles GET /v1/wallets/:id/transactions.
func (h *WalletHandler) Transactions(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	w, ok := h.owned(c, p)
	if !ok {
		return nil
	}
	txs, err := h.Ledger.Transactions(c.Request().Context(), w.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]txResp, 0, len(txs))
	for _, t := range txs {
		out = append(out, txView(t))
	}
	return c.JSON(http.StatusOK, echo.Map{"wallet": walletView(w), "items": out})
}

// Reconcile handles GET /v1/wallets/:id/reconcile (staff only).
func (h *WalletHandler) Reconcile(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	rec, err := h.Ledger.Reconcile(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	problems := rec.Problems
	if problems == nil {
		problems = []string{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"wallet_id":  rec.WalletID,
		"balance":    rec.Balance.StringFixed(2),
		"ledger_sum": rec.LedgerSum.StringFixed(2),
		"entries":    rec.Entries,
		"consistent": rec.Consistent,
		"problems":   problems,
	})
}
