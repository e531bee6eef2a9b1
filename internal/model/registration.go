package model

import "time"

// Registration is one admitted attendance right. EntryCode is assigned at
// creation and never changes; Used only ever moves from false to true.
type Registration struct {
	ID          uint64
	UserID      uint64
	EventID     uint64
	EntryCode   string
	QRPNG       []byte // nil until the credential artifact is attached
	Used        bool
	UsedAt      *time.Time
	ValidatedBy *uint64
	CreatedAt   time.Time
}

// HasCredential reports whether the artifact has been attached.
func (r Registration) HasCredential() bool { return len(r.QRPNG) > 0 }

// DeliveryLog is one row of the delivery audit trail. RegistrationID is
// nil when the attempt could not be tied to a registration.
type DeliveryLog struct {
	ID             uint64
	RegistrationID *uint64
	Recipient      string
	Subject        string
	Success        bool
	ErrorText      *string
	CreatedAt      time.Time
}
