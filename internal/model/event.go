package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event mirrors the events table. MaxRegistrations and
// RegistrationDeadline are optional; nil means unlimited and open.
type Event struct {
	ID                   uint64
	Name                 string
	Description          string
	Location             string
	StartsAt             time.Time
	MaxRegistrations     *int
	RegistrationDeadline *time.Time
	Price                decimal.Decimal // 0 = free
	Currency             string
	GroupID              *uint64
	CreatedAt            time.Time
}

// IsPaid reports whether admission debits the attendee's wallet.
func (e Event) IsPaid() bool { return e.Price.IsPositive() }

// Group is a distribution group that can own events.
type Group struct {
	ID          uint64
	Name        string
	Description string
	CreatedBy   *uint64
	CreatedAt   time.Time
}
