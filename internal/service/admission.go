package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/repository"
)

// CredentialGenerator turns an entry code into artifact bytes.
type CredentialGenerator interface {
	Generate(token string) ([]byte, error)
}

// Warning codes attached to a successful admission.
const (
	WarnCredentialFailed = "credential_generation_failed"
	WarnDeliveryFailed   = "delivery_failed"
)

// AdmissionResult is a committed registration plus any non-fatal problems
// that happened after the commit.
type AdmissionResult struct {
	Registration model.Registration
	Event        model.Event
	Payment      *model.Transaction
	Warnings     []string
}

// AdmissionDeps wires an Admission.
type AdmissionDeps struct {
	DB            *database.DB
	Events        *repository.EventRepo
	Groups        *repository.GroupRepo
	Registrations *repository.RegistrationRepo
	Users         *repository.UserRepo
	Ledger        *Ledger
	Credentials   CredentialGenerator
	Delivery      *Delivery
	Audit         *AuditLog
	Log           *slog.Logger
	Retries       int
}

// Admission creates registrations. Deadline, capacity, payment and
// creation happen in one transaction holding the event row lock, so
// concurrent admissions for one event are serialized and either all of
// the debit and the registration commit or none of it does. Credential
// generation and delivery run after the commit and never undo it.
type Admission struct {
	db      *database.DB
	events  *repository.EventRepo
	groups  *repository.GroupRepo
	regs    *repository.RegistrationRepo
	users   *repository.UserRepo
	ledger  *Ledger
	creds   CredentialGenerator
	deliver *Delivery
	audit   *AuditLog
	log     *slog.Logger
	retries int

	// Now and NewCode are replaceable in tests.
	Now     func() time.Time
	NewCode func() string
}

func NewAdmission(d AdmissionDeps) *Admission {
	retries := d.Retries
	if retries < 1 {
		retries = 3
	}
	return &Admission{
		db:      d.DB,
		events:  d.Events,
		groups:  d.Groups,
		regs:    d.Registrations,
		users:   d.Users,
		ledger:  d.Ledger,
		creds:   d.Credentials,
		deliver: d.Delivery,
		audit:   d.Audit,
		log:     d.Log,
		retries: retries,
		Now:     time.Now,
		NewCode: func() string { return uuid.NewString() },
	}
}

// Admit registers the principal for an event.
func (a *Admission) Admit(ctx context.Context, p authz.Principal, eventID uint64) (AdmissionResult, error) {
	log := a.log.With("user_id", p.UserID, "event_id", eventID)

	holder, err := a.users.GetByID(ctx, p.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return AdmissionResult{}, ErrNotAuthorized
	}
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("load user: %w", err)
	}
	ev, err := a.events.Get(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return AdmissionResult{}, ErrEventNotFound
	}
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("load event: %w", err)
	}
	// Cheap rejections before touching any wallet. The transaction below
	// repeats both checks under the lock.
	if err := a.checkDeadline(ev); err != nil {
		return AdmissionResult{}, err
	}
	if ev.MaxRegistrations != nil {
		n, err := a.regs.CountByEvent(ctx, eventID)
		if err != nil {
			return AdmissionResult{}, fmt.Errorf("count registrations: %w", err)
		}
		if n >= *ev.MaxRegistrations {
			return AdmissionResult{}, ErrCapacityExceeded
		}
	}

	var wallet model.Wallet
	if ev.IsPaid() {
		if wallet, err = a.ledger.EnsureWallet(ctx, p.UserID); err != nil {
			return AdmissionResult{}, err
		}
	}

	var res AdmissionResult
	err = withRetry(ctx, log, "admission", a.retries, func() error {
		res = AdmissionResult{}
		return a.db.InTx(ctx, func(tx *sql.Tx) error {
			return a.admitTx(ctx, tx, p, eventID, wallet, &res)
		})
	})
	if err != nil {
		if errors.Is(err, ErrRetriesExhausted) {
			log.ErrorContext(ctx, "admission failed after retries", "err", err)
		}
		return AdmissionResult{}, err
	}
	log.InfoContext(ctx, "admission committed", "registration_id", res.Registration.ID, "paid", res.Payment != nil)

	// Past this point the registration is final.
	postCtx := context.WithoutCancel(ctx)
	if err := a.attachCredential(postCtx, &res.Registration); err != nil {
		regID := res.Registration.ID
		a.audit.Record(postCtx, &regID, holder.Email, "credential generation", err)
		res.Warnings = append(res.Warnings, WarnCredentialFailed)
		return res, nil
	}
	if err := a.deliver.SendTicket(postCtx, res.Registration, res.Event, holder); err != nil {
		res.Warnings = append(res.Warnings, WarnDeliveryFailed)
	}
	return res, nil
}

func (a *Admission) admitTx(ctx context.Context, tx *sql.Tx, p authz.Principal, eventID uint64, wallet model.Wallet, res *AdmissionResult) error {
	ev, err := a.events.LockTx(ctx, tx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("lock event: %w", err)
	}
	if err := a.checkDeadline(ev); err != nil {
		return err
	}
	if ev.MaxRegistrations != nil {
		n, err := a.regs.CountByEventTx(ctx, tx, eventID)
		if err != nil {
			return fmt.Errorf("count registrations: %w", err)
		}
		if n >= *ev.MaxRegistrations {
			return ErrCapacityExceeded
		}
	}
	if ev.IsPaid() {
		t, err := a.ledger.DebitTx(ctx, tx, wallet.ID, ev.Price, &ev.ID, "Registration for "+ev.Name)
		if err != nil {
			return err
		}
		res.Payment = &t
	}
	reg := model.Registration{UserID: p.UserID, EventID: eventID, EntryCode: a.NewCode()}
	if err := a.regs.CreateTx(ctx, tx, &reg); err != nil {
		return err
	}
	res.Registration = reg
	res.Event = ev
	return nil
}

func (a *Admission) checkDeadline(ev model.Event) error {
	if ev.RegistrationDeadline != nil && a.Now().After(*ev.RegistrationDeadline) {
		return ErrDeadlinePassed
	}
	return nil
}

// attachCredential generates the artifact and stores it unless one is
// already stored. reg.QRPNG ends up holding whatever is persisted.
func (a *Admission) attachCredential(ctx context.Context, reg *model.Registration) error {
	if reg.HasCredential() {
		return nil
	}
	png, err := a.creds.Generate(reg.EntryCode)
	if err != nil {
		return fmt.Errorf("generate credential: %w", err)
	}
	wrote, err := a.regs.AttachCredential(ctx, reg.ID, png)
	if err != nil {
		return fmt.Errorf("attach credential: %w", err)
	}
	if wrote {
		reg.QRPNG = png
		return nil
	}
	stored, err := a.regs.Get(ctx, reg.ID)
	if err != nil {
		return fmt.Errorf("reload credential: %w", err)
	}
	reg.QRPNG = stored.QRPNG
	return nil
}

// Registration returns a registration the principal may see: their own,
// or any registration of an event they manage.
func (a *Admission) Registration(ctx context.Context, p authz.Principal, id uint64) (model.Registration, model.Event, error) {
	reg, err := a.regs.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return reg, model.Event{}, ErrRegistrationNotFound
	}
	if err != nil {
		return reg, model.Event{}, err
	}
	ev, err := a.events.Get(ctx, reg.EventID)
	if err != nil {
		return reg, ev, fmt.Errorf("load event: %w", err)
	}
	if reg.UserID == p.UserID {
		return reg, ev, nil
	}
	ok, err := a.CanManageEvent(ctx, p, ev)
	if err != nil {
		return reg, ev, err
	}
	if !ok {
		return reg, ev, ErrNotAuthorized
	}
	return reg, ev, nil
}

// CanManageEvent reports whether p is staff, an event admin, or an admin
// of the event's group.
func (a *Admission) CanManageEvent(ctx context.Context, p authz.Principal, ev model.Event) (bool, error) {
	if p.Staff {
		return true, nil
	}
	res, err := loadResources(ctx, a.db, a.events, a.groups, ev)
	if err != nil {
		return false, err
	}
	return authz.CanManage(p, res...), nil
}

// EnsureCredential returns the stored artifact, generating and storing it
// on first access.
func (a *Admission) EnsureCredential(ctx context.Context, p authz.Principal, id uint64) ([]byte, error) {
	reg, _, err := a.Registration(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := a.attachCredential(ctx, &reg); err != nil {
		return nil, err
	}
	return reg.QRPNG, nil
}

// RenderTicket returns the PDF ticket for a registration.
func (a *Admission) RenderTicket(ctx context.Context, p authz.Principal, id uint64) ([]byte, model.Registration, error) {
	reg, ev, err := a.Registration(ctx, p, id)
	if err != nil {
		return nil, reg, err
	}
	if err := a.attachCredential(ctx, &reg); err != nil {
		return nil, reg, err
	}
	holder, err := a.users.GetByID(ctx, reg.UserID)
	if err != nil {
		return nil, reg, fmt.Errorf("load holder: %w", err)
	}
	doc, err := renderTicket(reg, ev, holder)
	return doc, reg, err
}

// ListForUser returns the principal's own registrations.
func (a *Admission) ListForUser(ctx context.Context, p authz.Principal) ([]model.Registration, error) {
	return a.regs.ListByUser(ctx, p.UserID)
}

// ListForEvent returns an event's registrations to someone who manages it.
func (a *Admission) ListForEvent(ctx context.Context, p authz.Principal, eventID uint64) ([]model.Registration, error) {
	ev, err := a.events.Get(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	ok, err := a.CanManageEvent(ctx, p, ev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAuthorized
	}
	return a.regs.ListByEvent(ctx, eventID)
}

// loadResources builds the authz resources for an event: the event and,
// if it has one, its group. q may be a transaction.
func loadResources(ctx context.Context, q database.Querier, events *repository.EventRepo, groups *repository.GroupRepo, ev model.Event) ([]authz.Resource, error) {
	admins, err := events.AdminIDsTx(ctx, q, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("load event admins: %w", err)
	}
	res := []authz.Resource{authz.EventResource{EventID: ev.ID, AdminIDs: admins}}
	if ev.GroupID != nil {
		gAdmins, err := groups.AdminIDsTx(ctx, q, *ev.GroupID)
		if err != nil {
			return nil, fmt.Errorf("load group admins: %w", err)
		}
		res = append(res, authz.GroupResource{GroupID: *ev.GroupID, AdminIDs: gAdmins})
	}
	return res, nil
}
