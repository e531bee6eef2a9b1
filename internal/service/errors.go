package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/evento/internal/mail"
)

// Precondition failures. Nothing has been written when these are returned.
var (
	ErrEventNotFound     = errors.New("event not found")
	ErrDeadlinePassed    = errors.New("registration deadline has passed")
	ErrCapacityExceeded  = errors.New("event is full")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Validation and access failures.
var (
	ErrUnknownCredential    = errors.New("unknown credential")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrInvalidAmount        = errors.New("amount must be a positive number of whole cents")
	ErrInvalidTxType        = errors.New("invalid transaction type")
)

// ErrRetriesExhausted wraps the last integrity failure once every retry
// attempt has failed. The transaction did not commit.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrNoContactAddress is recorded when a ticket cannot be delivered
// because the attendee has no email address.
var ErrNoContactAddress = mail.ErrNoRecipient

// InsufficientFundsError carries the amounts a client needs to top up.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Currency  string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s %s, available %s %s",
		e.Required.StringFixed(2), e.Currency, e.Available.StringFixed(2), e.Currency)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Code maps an error to the machine-readable code returned by the API.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrUnknownCredential):
		return "unknown_credential"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrRegistrationNotFound):
		return "registration_not_found"
	case errors.Is(err, ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidTxType):
		return "invalid_transaction_type"
	}
	return "internal"
}
