package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/service"
	"github.com/iliyamo/evento/internal/testutil"
)

// admitted registers a fresh attendee for eventID and returns the result.
func (f *fixture) admitted(t *testing.T, email string, eventID uint64) service.AdmissionResult {
	t.Helper()
	uid := testutil.CreateUser(t, f.db, email)
	res, err := f.admission.Admit(context.Background(), attendee(uid), eventID)
	require.NoError(t, err)
	return res
}

func staff(id uint64) authz.Principal { return authz.Principal{UserID: id, Staff: true} }

func TestValidateSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	door := testutil.CreateUser(t, f.db, "door@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{Name: "Spring Gala"})
	reg := f.admitted(t, "guest@example.com", eid).Registration

	at := time.Date(2031, 3, 4, 19, 30, 0, 0, time.UTC)
	f.validator.Now = func() time.Time { return at }

	first, err := f.validator.Validate(ctx, staff(door), reg.EntryCode)
	require.NoError(t, err)
	assert.True(t, first.Valid)
	assert.False(t, first.AlreadyUsed)
	assert.Equal(t, "Spring Gala", first.EventName)
	assert.Equal(t, "guest@example.com", first.Attendee)
	assert.True(t, first.Registration.Used)

	for i := 0; i < 2; i++ {
		again, err := f.validator.Validate(ctx, staff(door), reg.EntryCode)
		require.NoError(t, err)
		assert.False(t, again.Valid)
		assert.True(t, again.AlreadyUsed)
	}

	stored, err := f.regs.Get(ctx, reg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Used)
	require.NotNil(t, stored.UsedAt)
	assert.True(t, at.Equal(*stored.UsedAt))
	require.NotNil(t, stored.ValidatedBy)
	assert.Equal(t, door, *stored.ValidatedBy)
}

func TestValidateConcurrentScansConsumeOnce(t *testing.T) {
	const scanners = 10
	f := newFixture(t)
	door := testutil.CreateUser(t, f.db, "door@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})
	reg := f.admitted(t, "guest@example.com", eid).Registration

	results := make([]service.ValidationResult, scanners)
	errs := make([]error, scanners)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.validator.Validate(context.Background(), staff(door), reg.EntryCode)
		}(i)
	}
	close(start)
	wg.Wait()

	valid := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Valid {
			valid++
		} else {
			assert.True(t, results[i].AlreadyUsed)
		}
	}
	assert.Equal(t, 1, valid)
}

func TestValidateAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	groupAdmin := testutil.CreateUser(t, f.db, "group-admin@example.com")
	eventAdmin := testutil.CreateUser(t, f.db, "event-admin@example.com")
	stranger := testutil.CreateUser(t, f.db, "stranger@example.com")
	door := testutil.CreateUser(t, f.db, "door@example.com")

	g := model.Group{Name: "Campus Events", CreatedBy: &groupAdmin}
	require.NoError(t, f.groups.Create(ctx, &g))
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{GroupID: &g.ID})
	require.NoError(t, f.events.AddAdmin(ctx, eid, eventAdmin))

	cases := []struct {
		name  string
		p     authz.Principal
		allow bool
	}{
		{"stranger", attendee(stranger), false},
		{"group admin", attendee(groupAdmin), true},
		{"event admin", attendee(eventAdmin), true},
		{"staff", staff(door), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := f.admitted(t, tc.name+"-guest@example.com", eid).Registration
			res, err := f.validator.Validate(ctx, tc.p, reg.EntryCode)
			stored, gerr := f.regs.Get(ctx, reg.ID)
			require.NoError(t, gerr)
			if !tc.allow {
				assert.ErrorIs(t, err, service.ErrNotAuthorized)
				assert.False(t, stored.Used)
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Valid)
			assert.True(t, stored.Used)
		})
	}
}

func TestValidateOwnerCannotSelfAdmit(t *testing.T) {
	f := newFixture(t)
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})
	reg := f.admitted(t, "self@example.com", eid).Registration

	_, err := f.validator.Validate(context.Background(), attendee(reg.UserID), reg.EntryCode)
	assert.ErrorIs(t, err, service.ErrNotAuthorized)
}

func TestValidateUnknownCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	door := testutil.CreateUser(t, f.db, "door@example.com")

	_, err := f.validator.Validate(ctx, staff(door), "9b2e4d6a-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, service.ErrUnknownCredential)
	assert.Equal(t, "unknown_credential", service.Code(err))

	_, err = f.validator.Validate(ctx, staff(door), "   ")
	assert.ErrorIs(t, err, service.ErrUnknownCredential)

	_, err = f.validator.ValidateByID(ctx, staff(door), 999)
	assert.ErrorIs(t, err, service.ErrUnknownCredential)

	_, err = f.validator.ValidateScan(ctx, staff(door), "not a ticket")
	assert.ErrorIs(t, err, service.ErrUnknownCredential)
}

func TestValidateScanAndByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	door := testutil.CreateUser(t, f.db, "door@example.com")
	eid := testutil.CreateEvent(t, f.db, testutil.EventOpts{})

	byURL := f.admitted(t, "url@example.com", eid).Registration
	res, err := f.validator.ValidateScan(ctx, staff(door), "https://evento.test/v1/scan/"+byURL.EntryCode+"/")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, byURL.ID, res.Registration.ID)

	byID := f.admitted(t, "id@example.com", eid).Registration
	res, err = f.validator.ValidateByID(ctx, staff(door), byID.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = f.validator.ValidateByID(ctx, staff(door), byID.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyUsed)
}

func TestParseScan(t *testing.T) {
	const code = "5f0c7a8e-3b1d-4c2a-9e6f-1a2b3c4d5e6f"
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{code, code, true},
		{"  " + code + "\n", code, true},
		{"5F0C7A8E-3B1D-4C2A-9E6F-1A2B3C4D5E6F", code, true},
		{"https://tickets.example.com/scan/" + code, code, true},
		{"https://tickets.example.com/scan/" + code + "/", code, true},
		{"/scan/" + code + "?src=qr", code, true},
		{"https://tickets.example.com/scan/", "", false},
		{"hello", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := service.ParseScan(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
