package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/service"
)

// RegistrationHandler serves admission, ticket download and door
// validation.
type RegistrationHandler struct {
	Admission *service.Admission
	Validator *service.EntryValidator
	BaseURL   string
	Log       *slog.Logger
}

func NewRegistrationHandler(a *service.Admission, v *service.EntryValidator, baseURL string, log *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{Admission: a, Validator: v, BaseURL: strings.TrimRight(baseURL, "/"), Log: log}
}

type admitReq struct {
	EventID uint64 `json:"event_id"`
}

type scanReq struct {
	QRContent string `json:"qr_content"`
}

type registrationView struct {
	ID            uint64     `json:"id"`
	UserID        uint64     `json:"user_id"`
	EventID       uint64     `json:"event_id"`
	EntryCode     string     `json:"entry_code"`
	Used          bool       `json:"used"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	ValidatedBy   *uint64    `json:"validated_by,omitempty"`
	HasCredential bool       `json:"has_credential"`
	CredentialURL string     `json:"credential_url"`
	TicketURL     string     `json:"ticket_url"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (h *RegistrationHandler) view(r model.Registration) registrationView {
	return registrationView{
		ID:            r.ID,
		UserID:        r.UserID,
		EventID:       r.EventID,
		EntryCode:     r.EntryCode,
		Used:          r.Used,
		UsedAt:        r.UsedAt,
		ValidatedBy:   r.ValidatedBy,
		HasCredential: r.HasCredential(),
		CredentialURL: fmt.Sprintf("%s/v1/registrations/%d/qr", h.BaseURL, r.ID),
		TicketURL:     fmt.Sprintf("%s/v1/registrations/%d/ticket", h.BaseURL, r.ID),
		CreatedAt:     r.CreatedAt,
	}
}

// Create handles POST /v1/registrations. A 201 may carry warnings: the
// registration is final even when the credential or the mail failed.
func (h *RegistrationHandler) Create(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	var req admitReq
	if err := c.Bind(&req); err != nil || req.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id required"})
	}
	res, err := h.Admission.Admit(c.Request().Context(), p, req.EventID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := echo.Map{"registration": h.view(res.Registration), "warnings": res.Warnings}
	if res.Warnings == nil {
		out["warnings"] = []string{}
	}
	if res.Payment != nil {
		out["payment"] = txView(*res.Payment)
	}
	return c.JSON(http.StatusCreated, out)
}

// Mine handles GET /v1/my-registrations.
func (h *RegistrationHandler) Mine(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	regs, err := h.Admission.ListForUser(c.Request().Context(), p)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": h.views(regs)})
}

// Get handles GET /v1/registrations/:id.
func (h *RegistrationHandler) Get(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	reg, ev, err := h.Admission.Registration(c.Request().Context(), p, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"registration": h.view(reg), "event": eventView(ev)})
}

// Ticket handles GET /v1/registrations/:id/ticket and streams the PDF.
func (h *RegistrationHandler) Ticket(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	doc, reg, err := h.Admission.RenderTicket(c.Request().Context(), p, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="ticket-%d.pdf"`, reg.ID))
	return c.Blob(http.StatusOK, "application/pdf", doc)
}

// QR handles GET /v1/registrations/:id/qr and returns the PNG artifact,
// generating it on first access.
func (h *RegistrationHandler) QR(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	png, err := h.Admission.EnsureCredential(c.Request().Context(), p, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=86400")
	return c.Blob(http.StatusOK, "image/png", png)
}

// ValidateByID handles POST /v1/registrations/:id/validate_qr.
func (h *RegistrationHandler) ValidateByID(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	res, err := h.Validator.ValidateByID(c.Request().Context(), p, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, validationView(res))
}

// ValidateScan handles POST /v1/registrations/validate_qr with the raw
// scanner output in qr_content.
func (h *RegistrationHandler) ValidateScan(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	var req scanReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.QRContent) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"valid": false, "error": "qr_content required"})
	}
	res, err := h.Validator.ValidateScan(c.Request().Context(), p, req.QRContent)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, validationView(res))
}

func (h *RegistrationHandler) views(regs []model.Registration) []registrationView {
	out := make([]registrationView, 0, len(regs))
	for _, r := range regs {
		out = append(out, h.view(r))
	}
	return out
}

func validationView(res service.ValidationResult) echo.Map {
	msg := "entry granted"
	if res.AlreadyUsed {
		msg = "credential already used"
	}
	return echo.Map{
		"valid":           res.Valid,
		"already_used":    res.AlreadyUsed,
		"message":         msg,
		"registration_id": res.Registration.ID,
		"event":           res.EventName,
		"attendee":        res.Attendee,
		"used_at":         res.Registration.UsedAt,
	}
}
