package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/database"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/repository"
)

// ValidationResult is the outcome of a scan. A code scanned a second time
// is not an error: it comes back with Valid false and AlreadyUsed true.
type ValidationResult struct {
	Valid        bool
	AlreadyUsed  bool
	Registration model.Registration
	EventName    string
	Attendee     string
}

// EntryValidator consumes credentials at the door. The unused to used
// transition happens under a row lock, so two scanners racing on one code
// see exactly one Valid result.
type EntryValidator struct {
	db      *database.DB
	regs    *repository.RegistrationRepo
	events  *repository.EventRepo
	groups  *repository.GroupRepo
	users   *repository.UserRepo
	log     *slog.Logger
	retries int

	Now func() time.Time
}

func NewEntryValidator(db *database.DB, regs *repository.RegistrationRepo, events *repository.EventRepo,
	groups *repository.GroupRepo, users *repository.UserRepo, retries int, log *slog.Logger) *EntryValidator {
	if retries < 1 {
		retries = 3
	}
	return &EntryValidator{db: db, regs: regs, events: events, groups: groups, users: users, log: log, retries: retries, Now: time.Now}
}

// Validate consumes the credential with the given entry code.
func (v *EntryValidator) Validate(ctx context.Context, p authz.Principal, entryCode string) (ValidationResult, error) {
	code := strings.TrimSpace(entryCode)
	if code == "" {
		return ValidationResult{}, ErrUnknownCredential
	}
	return v.run(ctx, p, func(tx *sql.Tx) (model.Registration, error) {
		return v.regs.LockByCodeTx(ctx, tx, code)
	})
}

// ValidateByID consumes the credential of a registration addressed by id.
func (v *EntryValidator) ValidateByID(ctx context.Context, p authz.Principal, registrationID uint64) (ValidationResult, error) {
	return v.run(ctx, p, func(tx *sql.Tx) (model.Registration, error) {
		return v.regs.LockByIDTx(ctx, tx, registrationID)
	})
}

// ValidateScan accepts raw QR content: either the entry code itself or a
// URL whose last path segment is the code.
func (v *EntryValidator) ValidateScan(ctx context.Context, p authz.Principal, raw string) (ValidationResult, error) {
	code, ok := ParseScan(raw)
	if !ok {
		return ValidationResult{}, ErrUnknownCredential
	}
	return v.Validate(ctx, p, code)
}

// ParseScan extracts an entry code from scanned QR content.
func ParseScan(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if id, err := uuid.Parse(s); err == nil {
		return id.String(), true
	}
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		last := path.Base(strings.TrimRight(u.Path, "/"))
		if id, err := uuid.Parse(last); err == nil {
			return id.String(), true
		}
	}
	return "", false
}

func (v *EntryValidator) run(ctx context.Context, p authz.Principal, lock func(tx *sql.Tx) (model.Registration, error)) (ValidationResult, error) {
	var res ValidationResult
	err := withRetry(ctx, v.log, "validate", v.retries, func() error {
		res = ValidationResult{}
		return v.db.InTx(ctx, func(tx *sql.Tx) error {
			return v.consumeTx(ctx, tx, p, lock, &res)
		})
	})
	if err != nil {
		return ValidationResult{}, err
	}
	v.log.InfoContext(ctx, "credential scanned",
		"registration_id", res.Registration.ID, "validator_id", p.UserID, "valid", res.Valid, "already_used", res.AlreadyUsed)
	return res, nil
}

func (v *EntryValidator) consumeTx(ctx context.Context, tx *sql.Tx, p authz.Principal, lock func(tx *sql.Tx) (model.Registration, error), res *ValidationResult) error {
	reg, err := lock(tx)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUnknownCredential
	}
	if err != nil {
		return fmt.Errorf("lock registration: %w", err)
	}
	ev, err := v.events.GetTx(ctx, tx, reg.EventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if !p.Staff {
		rs, err := loadResources(ctx, tx, v.events, v.groups, ev)
		if err != nil {
			return err
		}
		if !authz.CanManage(p, rs...) {
			return ErrNotAuthorized
		}
	}

	res.EventName = ev.Name
	if holder, err := v.users.GetByIDTx(ctx, tx, reg.UserID); err == nil {
		res.Attendee = holderName(holder)
	}

	if reg.Used {
		res.AlreadyUsed = true
		res.Registration = reg
		return nil
	}
	now := v.Now().UTC()
	flipped, err := v.regs.MarkUsedTx(ctx, tx, reg.ID, p.UserID, now)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	if !flipped {
		res.AlreadyUsed = true
		res.Registration = reg
		return nil
	}
	reg.Used = true
	reg.UsedAt = &now
	validator := p.UserID
	reg.ValidatedBy = &validator
	res.Valid = true
	res.Registration = reg
	return nil
}
