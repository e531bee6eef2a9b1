package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	gzqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/service"
	"github.com/iliyamo/evento/internal/testutil"
)

func attendee(id uint64) authz.Principal { return authz.Principal{UserID: id} }

func TestAdmitFreeEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := testutil.CreateUser(t, f.db, "free@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})

	res, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Nil(t, res.Payment)
	assert.False(t, res.Registration.Used)
	assert.NotEmpty(t, res.Registration.EntryCode)
	assert.True(t, res.Registration.HasCredential())

	// no wallet is provisioned for a free event
	_, err = f.wallets.GetByUser(ctx, uid)
	assert.Error(t, err)

	stored, err := f.regs.Get(ctx, res.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Registration.QRPNG, stored.QRPNG)
	assert.False(t, stored.Used)

	logs, err := f.logs.ListByRegistration(ctx, res.Registration.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, "free@example.com", logs[0].Recipient)

	require.Equal(t, 1, f.mailer.count())
	msg := f.mailer.sent[0]
	assert.Equal(t, "free@example.com", msg.To)
	require.NotEmpty(t, msg.Attachments)
	assert.True(t, bytes.HasPrefix(msg.Attachments[0].Data, []byte("%PDF-")))
	assert.Contains(t, msg.Body, res.Registration.EntryCode)
}

func TestAdmitCredentialDecodesToEntryCode(t *testing.T) {
	f := newFixture(t)
	uid := testutil.CreateUser(t, f.db, "scan@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})

	res, err := f.admission.Admit(context.Background(), attendee(uid), eid)
	require.NoError(t, err)

	img, _, err := image.Decode(bytes.NewReader(res.Registration.QRPNG))
	require.NoError(t, err)
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)
	out, err := gzqr.NewQRCodeReader().Decode(bmp, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Registration.EntryCode, out.GetText())
}

func TestAdmitPaidEventDebitsWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := testutil.CreateUser(t, f.db, "paid@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Price: "10.00"})
	w := f.fund(t, uid, "25.00")

	res, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	assert.Equal(t, model.TxPayment, res.Payment.Type)
	assert.Equal(t, "-10.00", res.Payment.Amount.StringFixed(2))
	assert.Equal(t, "15.00", res.Payment.BalanceAfter.StringFixed(2))
	require.NotNil(t, res.Payment.EventID)
	assert.Equal(t, eid, *res.Payment.EventID)

	assert.Equal(t, "15.00", f.balance(t, uid).StringFixed(2))
	rec, err := f.ledger.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, rec.Problems)
}

func TestAdmitInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := testutil.CreateUser(t, f.db, "short@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Price: "10.00"})
	w := f.fund(t, uid, "5.00")

	_, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.ErrorIs(t, err, service.ErrInsufficientFunds)
	var ife *service.InsufficientFundsError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, "10.00", ife.Required.StringFixed(2))
	assert.Equal(t, "5.00", ife.Available.StringFixed(2))
	assert.Equal(t, "insufficient_funds", service.Code(err))

	assert.Equal(t, "5.00", f.balance(t, uid).StringFixed(2))
	assert.Zero(t, f.registrationCount(t, eid))
	txs, err := f.ledger.Transactions(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Zero(t, f.mailer.count())
}

func TestAdmitPaidEventProvisionsWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := testutil.CreateUser(t, f.db, "nowallet@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Price: "1.00"})

	_, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.ErrorIs(t, err, service.ErrInsufficientFunds)

	w, err := f.wallets.GetByUser(ctx, uid)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func TestAdmitDeadline(t *testing.T) {
	f := newFixture(t)
	uid := testutil.CreateUser(t, f.db, "late@example.com")
	deadline := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Deadline: &deadline})

	f.admission.Now = func() time.Time { return deadline.Add(time.Second) }
	_, err := f.admission.Admit(context.Background(), attendee(uid), eid)
	assert.ErrorIs(t, err, service.ErrDeadlinePassed)
	assert.Zero(t, f.registrationCount(t, eid))

	f.admission.Now = func() time.Time { return deadline.Add(-time.Second) }
	_, err = f.admission.Admit(context.Background(), attendee(uid), eid)
	assert.NoError(t, err)
}

func TestAdmitUnknownEvent(t *testing.T) {
	f := newFixture(t)
	uid := testutil.CreateUser(t, f.db, "lost@example.com")
	_, err := f.admission.Admit(context.Background(), attendee(uid), 4242)
	assert.ErrorIs(t, err, service.ErrEventNotFound)
}

func TestAdmitCapacityTwoUsersRace(t *testing.T) {
	f := newFixture(t)
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Max: testutil.IntPtr(1)})
	a := testutil.CreateUser(t, f.db, "a@example.com")
	b := testutil.CreateUser(t, f.db, "b@example.com")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, uid := range []uint64{a, b} {
		wg.Add(1)
		go func(i int, uid uint64) {
			defer wg.Done()
			<-start
			_, errs[i] = f.admission.Admit(context.Background(), attendee(uid), eid)
		}(i, uid)
	}
	close(start)
	wg.Wait()

	okCount := 0
	for _, err := range errs {
		if err == nil {
			okCount++
			continue
		}
		assert.ErrorIs(t, err, service.ErrCapacityExceeded)
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, f.registrationCount(t, eid))
}

func TestAdmitNeverOversells(t *testing.T) {
	const limit, extra = 5, 7
	f := newFixture(t)
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Max: testutil.IntPtr(limit)})

	var (
		wg         sync.WaitGroup
		ok, full   atomic.Int32
		start      = make(chan struct{})
		principals = make([]authz.Principal, limit+extra)
	)
	for i := range principals {
		principals[i] = attendee(testutil.CreateUser(t, f.db, fmt.Sprintf("u%d@example.com", i)))
	}
	for _, p := range principals {
		wg.Add(1)
		go func(p authz.Principal) {
			defer wg.Done()
			<-start
			_, err := f.admission.Admit(context.Background(), p, eid)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, service.ErrCapacityExceeded):
				full.Add(1)
			default:
				t.Errorf("unexpected admission error: %v", err)
			}
		}(p)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, limit, ok.Load())
	assert.EqualValues(t, extra, full.Load())
	assert.Equal(t, limit, f.registrationCount(t, eid))
}

func TestAdmitPaidCapacityChargesOnlyWinners(t *testing.T) {
	const limit, users = 3, 6
	f := newFixture(t)
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Price: "10.00", Max: testutil.IntPtr(limit)})

	ids := make([]uint64, users)
	for i := range ids {
		ids[i] = testutil.CreateUser(t, f.db, fmt.Sprintf("p%d@example.com", i))
		f.fund(t, ids[i], "10.00")
	}
	results := make([]error, users)
	var wg sync.WaitGroup
	for i, uid := range ids {
		wg.Add(1)
		go func(i int, uid uint64) {
			defer wg.Done()
			_, results[i] = f.admission.Admit(context.Background(), attendee(uid), eid)
		}(i, uid)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		if err == nil {
			winners++
			assert.True(t, f.balance(t, ids[i]).IsZero())
			continue
		}
		assert.ErrorIs(t, err, service.ErrCapacityExceeded)
		assert.Equal(t, "10.00", f.balance(t, ids[i]).StringFixed(2))
	}
	assert.Equal(t, limit, winners)
	assert.Equal(t, limit, f.registrationCount(t, eid))
}

func TestAdmitCredentialFailureKeepsRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.fail = true
	uid := testutil.CreateUser(t, f.db, "noqr@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})

	res, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, service.WarnCredentialFailed)
	require.NotZero(t, res.Registration.ID)

	stored, err := f.regs.Get(ctx, res.Registration.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasCredential())

	logs, err := f.logs.ListByRegistration(ctx, res.Registration.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	require.NotNil(t, logs[0].ErrorText)
	assert.Contains(t, *logs[0].ErrorText, "qr encoder unavailable")
	assert.Zero(t, f.mailer.count())
}

func TestAdmitDeliveryFailureIsAuditedNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailer.err = errors.New("relay refused connection")
	uid := testutil.CreateUser(t, f.db, "bounce@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Price: "2.00"})
	f.fund(t, uid, "2.00")

	res, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.NoError(t, err)
	assert.Equal(t, []string{service.WarnDeliveryFailed}, res.Warnings)
	assert.True(t, f.balance(t, uid).IsZero())

	logs, err := f.logs.ListByRegistration(ctx, res.Registration.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Contains(t, *logs[0].ErrorText, "relay refused")
}

func TestAdmitWithoutEmailLogsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := testutil.CreateUser(t, f.db, "")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})

	res, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, service.WarnDeliveryFailed)

	logs, err := f.logs.ListByRegistration(ctx, res.Registration.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, *logs[0].ErrorText, service.ErrNoContactAddress.Error())
}

func TestAdmitRetriesEntryCodeCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})
	first := testutil.CreateUser(t, f.db, "first@example.com")
	second := testutil.CreateUser(t, f.db, "second@example.com")

	f.admission.NewCode = func() string { return "11111111-1111-4111-8111-111111111111" }
	_, err := f.admission.Admit(ctx, attendee(first), eid)
	require.NoError(t, err)

	codes := []string{
		"11111111-1111-4111-8111-111111111111",
		"22222222-2222-4222-8222-222222222222",
	}
	var calls atomic.Int32
	f.admission.NewCode = func() string { return codes[min(int(calls.Add(1))-1, len(codes)-1)] }

	res, err := f.admission.Admit(ctx, attendee(second), eid)
	require.NoError(t, err)
	assert.Equal(t, codes[1], res.Registration.EntryCode)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 2, f.registrationCount(t, eid))
}

func TestAdmitCollisionExhaustionCommitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Price: "3.00"})
	first := testutil.CreateUser(t, f.db, "one@example.com")
	second := testutil.CreateUser(t, f.db, "two@example.com")
	f.fund(t, first, "3.00")
	f.fund(t, second, "3.00")

	f.admission.NewCode = func() string { return "33333333-3333-4333-8333-333333333333" }
	_, err := f.admission.Admit(ctx, attendee(first), eid)
	require.NoError(t, err)

	_, err = f.admission.Admit(ctx, attendee(second), eid)
	require.ErrorIs(t, err, service.ErrRetriesExhausted)
	assert.Equal(t, "internal", service.Code(err))
	assert.Equal(t, "3.00", f.balance(t, second).StringFixed(2))
	assert.Equal(t, 1, f.registrationCount(t, eid))
}

func TestEnsureCredentialGeneratesAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := testutil.CreateUser(t, f.db, "once@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})

	res, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.gen.calls.Load())

	for i := 0; i < 3; i++ {
		png, err := f.admission.EnsureCredential(ctx, attendee(uid), res.Registration.ID)
		require.NoError(t, err)
		assert.Equal(t, res.Registration.QRPNG, png)
	}
	assert.EqualValues(t, 1, f.gen.calls.Load())
}

func TestEnsureCredentialLazyAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := testutil.CreateUser(t, f.db, "lazy@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})

	f.gen.fail = true
	res, err := f.admission.Admit(ctx, attendee(uid), eid)
	require.NoError(t, err)

	f.gen.fail = false
	png, err := f.admission.EnsureCredential(ctx, attendee(uid), res.Registration.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	again, err := f.admission.EnsureCredential(ctx, attendee(uid), res.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, png, again)
	assert.EqualValues(t, 2, f.gen.calls.Load())
}

func TestRegistrationAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, "owner@example.com")
	stranger := testutil.CreateUser(t, f.db, "stranger@example.com")
	admin := testutil.CreateUser(t, f.db, "admin@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})
	require.NoError(t, f.events.AddAdmin(ctx, eid, admin))

	res, err := f.admission.Admit(ctx, attendee(owner), eid)
	require.NoError(t, err)
	id := res.Registration.ID

	_, _, err = f.admission.Registration(ctx, attendee(owner), id)
	assert.NoError(t, err)
	_, _, err = f.admission.Registration(ctx, attendee(admin), id)
	assert.NoError(t, err)
	_, _, err = f.admission.Registration(ctx, authz.Principal{UserID: stranger, Staff: true}, id)
	assert.NoError(t, err)
	_, _, err = f.admission.Registration(ctx, attendee(stranger), id)
	assert.ErrorIs(t, err, service.ErrNotAuthorized)
	_, _, err = f.admission.Registration(ctx, attendee(owner), id+100)
	assert.ErrorIs(t, err, service.ErrRegistrationNotFound)

	doc, _, err := f.admission.RenderTicket(ctx, attendee(owner), id)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))

	_, err = f.admission.ListForEvent(ctx, attendee(stranger), eid)
	assert.ErrorIs(t, err, service.ErrNotAuthorized)
	regs, err := f.admission.ListForEvent(ctx, attendee(admin), eid)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}
