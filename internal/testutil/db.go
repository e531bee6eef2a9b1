// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/evento/internal/database"
)

// NewDB returns a migrated SQLite database in a temp dir. The file is
// removed when the test ends.
func NewDB(t testing.TB) *database.DB {
	t.Helper()
	raw, err := sql.Open("sqlite3", database.SQLiteDSN(filepath.Join(t.TempDir(), "evento.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	db := &database.DB{DB: raw, Dialect: database.SQLite}
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// CreateUser inserts an attendee and returns its id.
func CreateUser(t testing.TB, db *database.DB, email string) uint64 {
	t.Helper()
	id, err := db.Insert(context.Background(), db,
		"INSERT INTO users (email, display_name, password_hash, role) VALUES (?,?,?,?)",
		email, email, "x", "ATTENDEE")
	require.NoError(t, err)
	return id
}

// EventOpts configures CreateEvent. Zero values mean free, unlimited and
// no deadline.
type EventOpts struct {
	Name     string
	Price    string
	Max      *int
	Deadline *time.Time
	GroupID  *uint64
}

// CreateEvent inserts an event and returns its id.
func CreateEvent(t testing.TB, db *database.DB, o EventOpts) uint64 {
	t.Helper()
	if o.Name == "" {
		o.Name = "Launch Party"
	}
	price := decimal.Zero
	if o.Price != "" {
		price = decimal.RequireFromString(o.Price)
	}
	id, err := db.Insert(context.Background(), db,
		`INSERT INTO events (name, description, location, starts_at, max_registrations, registration_deadline, price, currency, group_id)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		o.Name, "", "Main Hall", time.Now().UTC().Add(48*time.Hour), o.Max, o.Deadline, price, "USD", o.GroupID)
	require.NoError(t, err)
	return id
}

// IntPtr returns &n.
func IntPtr(n int) *int { return &n }
