package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/evento/internal/credential"
	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/mail"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/repository"
	"github.com/iliyamo/evento/internal/service"
	"github.com/iliyamo/evento/internal/testutil"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// countingGen wraps the real QR encoder and counts calls; fail makes
// every call return an error.
type countingGen struct {
	calls atomic.Int32
	fail  bool
}

func (g *countingGen) Generate(token string) ([]byte, error) {
	g.calls.Add(1)
	if g.fail {
		return nil, errors.New("qr encoder unavailable")
	}
	return credential.Generate(token)
}

type fixture struct {
	db        *database.DB
	events    *repository.EventRepo
	groups    *repository.GroupRepo
	regs      *repository.RegistrationRepo
	users     *repository.UserRepo
	wallets   *repository.WalletRepo
	logs      *repository.DeliveryLogRepo
	ledger    *service.Ledger
	audit     *service.AuditLog
	mailer    *fakeMailer
	gen       *countingGen
	admission *service.Admission
	validator *service.EntryValidator
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	log := discardLogger()
	f := &fixture{
		db:      db,
		events:  repository.NewEventRepo(db),
		groups:  repository.NewGroupRepo(db),
		regs:    repository.NewRegistrationRepo(db),
		users:   repository.NewUserRepo(db),
		wallets: repository.NewWalletRepo(db),
		logs:    repository.NewDeliveryLogRepo(db),
		mailer:  &fakeMailer{},
		gen:     &countingGen{},
	}
	f.ledger = service.NewLedger(f.wallets, "USD", log)
	f.audit = service.NewAuditLog(f.logs, log)
	f.admission = service.NewAdmission(service.AdmissionDeps{
		DB:            db,
		Events:        f.events,
		Groups:        f.groups,
		Registrations: f.regs,
		Users:         f.users,
		Ledger:        f.ledger,
		Credentials:   f.gen,
		Delivery:      service.NewDelivery(f.mailer, f.audit, time.Second, "http://evento.test", log),
		Audit:         f.audit,
		Log:           log,
		Retries:       3,
	})
	f.validator = service.NewEntryValidator(db, f.regs, f.events, f.groups, f.users, 3, log)
	return f
}

func (f *fixture) fund(t *testing.T, userID uint64, amount string) model.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.ledger.EnsureWallet(ctx, userID)
	require.NoError(t, err)
	if amount != "" {
		_, err = f.ledger.Credit(ctx, w.ID, decimal.RequireFromString(amount), model.TxDeposit, "top up", nil)
		require.NoError(t, err)
	}
	w, err = f.wallets.Get(ctx, w.ID)
	require.NoError(t, err)
	return w
}

func (f *fixture) balance(t *testing.T, userID uint64) decimal.Decimal {
	t.Helper()
	w, err := f.wallets.GetByUser(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) registrationCount(t *testing.T, eventID uint64) int {
	t.Helper()
	n, err := f.regs.CountByEvent(context.Background(), eventID)
	require.NoError(t, err)
	return n
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
