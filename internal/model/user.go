package model

import "time"

// Roles stored in users.role and carried in the access token.
const (
	RoleStaff    = "STAFF"
	RoleAttendee = "ATTENDEE"
)

// User mirrors the users table.
type User struct {
	ID           uint64
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsStaff reports whether the user carries the staff role.
func (u User) IsStaff() bool { return u.Role == RoleStaff }

// RefreshToken models an entry in the refresh_tokens table. Only the
// SHA-256 hash of the raw token is stored.
type RefreshToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}
