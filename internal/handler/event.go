package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/middleware"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/repository"
	"github.com/iliyamo/evento/internal/service"
)

// EventHandler serves the event catalogue and the event and group
// metadata the admission core reads: capacity, deadline, price, group and
// admins.
type EventHandler struct {
	Events      *repository.EventRepo
	Groups      *repository.GroupRepo
	Users       *repository.UserRepo
	Admission   *service.Admission
	Audit       *service.AuditLog
	Redis       *redis.Client
	CachePrefix string
	Currency    string
	Log         *slog.Logger
}

type eventReq struct {
	Name                 string           `json:"name"`
	Description          string           `json:"description"`
	Location             string           `json:"location"`
	StartsAt             time.Time        `json:"starts_at"`
	MaxRegistrations     *int             `json:"max_registrations"`
	RegistrationDeadline *time.Time       `json:"registration_deadline"`
	Price                *decimal.Decimal `json:"price"`
	Currency             string           `json:"currency"`
	GroupID              *uint64          `json:"group_id"`
}

type groupReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type adminReq struct {
	UserID uint64 `json:"user_id"`
}

type eventResp struct {
	ID                   uint64     `json:"id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	Location             string     `json:"location"`
	StartsAt             time.Time  `json:"starts_at"`
	MaxRegistrations     *int       `json:"max_registrations"`
	RegistrationDeadline *time.Time `json:"registration_deadline"`
	Price                string     `json:"price"`
	Currency             string     `json:"currency"`
	GroupID              *uint64    `json:"group_id"`
}

func eventView(e model.Event) eventResp {
	return eventResp{
		ID:                   e.ID,
		Name:                 e.Name,
		Description:          e.Description,
		Location:             e.Location,
		StartsAt:             e.StartsAt,
		MaxRegistrations:     e.MaxRegistrations,
		RegistrationDeadline: e.RegistrationDeadline,
		Price:                e.Price.StringFixed(2),
		Currency:             e.Currency,
		GroupID:              e.GroupID,
	}
}

// List handles GET /v1/events?limit=&offset=.
func (h *EventHandler) List(c echo.Context) error {
	limit, offset := 50, 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}
	evs, err := h.Events.List(c.Request().Context(), limit, offset)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]eventResp, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventView(e))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out, "limit": limit, "offset": offset})
}

// Search handles GET /v1/events/search?name=&location=&group_id=&is_free=&time=&page=&page_size=.
// time is "upcoming" (default), "open" (registration still possible) or "any".
// is_free=true keeps free events, is_free=false paid ones.
func (h *EventHandler) Search(c echo.Context) error {
	timeFilter := strings.ToLower(strings.TrimSpace(c.QueryParam("time")))
	if timeFilter == "" {
		timeFilter = "upcoming"
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	ps, _ := strconv.Atoi(c.QueryParam("page_size"))
	if ps < 1 {
		ps = 20
	}
	if ps > 100 {
		ps = 100
	}

	q := repository.EventSearchQuery{
		Name:       strings.TrimSpace(c.QueryParam("name")),
		Location:   strings.TrimSpace(c.QueryParam("location")),
		TimeFilter: timeFilter,
		Page:       page,
		PageSize:   ps,
	}
	if raw := c.QueryParam("group_id"); raw != "" {
		gid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid group_id"})
		}
		q.GroupID = &gid
	}
	if raw := c.QueryParam("is_free"); raw != "" {
		free, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid is_free"})
		}
		q.Free = &free
	}

	evs, total, err := h.Events.Search(c.Request().Context(), q)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]eventResp, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventView(e))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":      out,
		"total":     total,
		"page":      page,
		"page_size": ps,
	})
}

// Get handles GET /v1/events/:id.
func (h *EventHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	ev, err := h.Events.Get(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return writeError(c, h.Log, service.ErrEventNotFound)
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, eventView(ev))
}

// Create handles POST /v1/events. Staff may create any event; group
// admins may create events inside their group. The creator becomes the
// event's first admin.
func (h *EventHandler) Create(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	var req eventReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Name == "":
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	case req.StartsAt.IsZero():
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at required"})
	case req.MaxRegistrations != nil && *req.MaxRegistrations < 0:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "max_registrations must not be negative"})
	case req.Price != nil && req.Price.IsNegative():
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "price must not be negative"})
	case req.Price != nil && !req.Price.IsZero() && !service.ValidAmount(*req.Price):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "price must have at most 2 decimal places"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var res []authz.Resource
	if req.GroupID != nil {
		if _, err := h.Groups.Get(ctx, *req.GroupID); err != nil {
			return writeError(c, h.Log, err)
		}
		admins, err := h.Groups.AdminIDs(ctx, *req.GroupID)
		if err != nil {
			return writeError(c, h.Log, err)
		}
		res = append(res, authz.GroupResource{GroupID: *req.GroupID, AdminIDs: admins})
	}
	if !authz.CanManage(p, res...) {
		return writeError(c, h.Log, service.ErrNotAuthorized)
	}

	ev := model.Event{
		Name:                 req.Name,
		Description:          req.Description,
		Location:             req.Location,
		StartsAt:             req.StartsAt,
		MaxRegistrations:     req.MaxRegistrations,
		RegistrationDeadline: req.RegistrationDeadline,
		Price:                decimal.Zero,
		Currency:             strings.ToUpper(strings.TrimSpace(req.Currency)),
		GroupID:              req.GroupID,
	}
	if req.Price != nil {
		ev.Price = *req.Price
	}
	if ev.Currency == "" {
		ev.Currency = h.Currency
	}
	if err := h.Events.Create(ctx, &ev); err != nil {
		return writeError(c, h.Log, err)
	}
	if err := h.Events.AddAdmin(ctx, ev.ID, p.UserID); err != nil && !errors.Is(err, repository.ErrConflict) {
		return writeError(c, h.Log, err)
	}
	h.purge(ctx)
	h.Log.InfoContext(ctx, "event created", "event_id", ev.ID, "by", p.UserID, "group_id", ev.GroupID)
	return c.JSON(http.StatusCreated, eventView(ev))
}

// managedEvent loads the event at :id and checks that the caller manages it.
func (h *EventHandler) managedEvent(c echo.Context, p authz.Principal) (model.Event, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return model.Event{}, false
	}
	ev, err := h.Events.Get(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		_ = writeError(c, h.Log, service.ErrEventNotFound)
		return ev, false
	}
	if err != nil {
		_ = writeError(c, h.Log, err)
		return ev, false
	}
	allowed, err := h.Admission.CanManageEvent(c.Request().Context(), p, ev)
	if err != nil {
		_ = writeError(c, h.Log, err)
		return ev, false
	}
	if !allowed {
		_ = writeError(c, h.Log, service.ErrNotAuthorized)
		return ev, false
	}
	return ev, true
}

// AddAdmin handles POST /v1/events/:id/admins.
func (h *EventHandler) AddAdmin(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	ev, ok := h.managedEvent(c, p)
	if !ok {
		return nil
	}
	return h.addAdmin(c, func(ctx context.Context, uid uint64) error { return h.Events.AddAdmin(ctx, ev.ID, uid) })
}

// RemoveAdmin handles DELETE /v1/events/:id/admins/:user_id.
func (h *EventHandler) RemoveAdmin(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	ev, ok := h.managedEvent(c, p)
	if !ok {
		return nil
	}
	return h.removeAdmin(c, func(ctx context.Context, uid uint64) error { return h.Events.RemoveAdmin(ctx, ev.ID, uid) })
}

// Registrations handles GET /v1/events/:id/registrations.
func (h *EventHandler) Registrations(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	regs, err := h.Admission.ListForEvent(c.Request().Context(), p, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]echo.Map, 0, len(regs))
	for _, r := range regs {
		out = append(out, echo.Map{
			"id":             r.ID,
			"user_id":        r.UserID,
			"entry_code":     r.EntryCode,
			"used":           r.Used,
			"used_at":        r.UsedAt,
			"validated_by":   r.ValidatedBy,
			"has_credential": r.HasCredential(),
			"created_at":     r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": id, "count": len(out), "items": out})
}

// DeliveryLogs handles GET /v1/events/:id/delivery-logs.
func (h *EventHandler) DeliveryLogs(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	ev, ok := h.managedEvent(c, p)
	if !ok {
		return nil
	}
	logs, err := h.Audit.ForEvent(c.Request().Context(), ev.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]echo.Map, 0, len(logs))
	for _, l := range logs {
		out = append(out, echo.Map{
			"id":              l.ID,
			"registration_id": l.RegistrationID,
			"recipient":       l.Recipient,
			"subject":         l.Subject,
			"success":         l.Success,
			"error":           l.ErrorText,
			"created_at":      l.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"event_id": ev.ID, "items": out})
}

// CreateGroup handles POST /v1/groups. The creator becomes its admin.
func (h *EventHandler) CreateGroup(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	var req groupReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}
	creator := p.UserID
	g := model.Group{Name: strings.TrimSpace(req.Name), Description: req.Description, CreatedBy: &creator}
	if err := h.Groups.Create(c.Request().Context(), &g); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": g.ID, "name": g.Name, "description": g.Description, "created_by": creator})
}

// AddGroupAdmin handles POST /v1/groups/:id/admins.
func (h *EventHandler) AddGroupAdmin(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	id, ok := h.managedGroup(c, p)
	if !ok {
		return nil
	}
	return h.addAdmin(c, func(ctx context.Context, uid uint64) error { return h.Groups.AddAdmin(ctx, id, uid) })
}

// RemoveGroupAdmin handles DELETE /v1/groups/:id/admins/:user_id.
func (h *EventHandler) RemoveGroupAdmin(c echo.Context) error {
	p, ok := principal(c)
	if !ok {
		return nil
	}
	id, ok := h.managedGroup(c, p)
	if !ok {
		return nil
	}
	return h.removeAdmin(c, func(ctx context.Context, uid uint64) error { return h.Groups.RemoveAdmin(ctx, id, uid) })
}

// managedGroup resolves :id to a group the caller administers.
func (h *EventHandler) managedGroup(c echo.Context, p authz.Principal) (uint64, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return 0, false
	}
	ctx := c.Request().Context()
	if _, err := h.Groups.Get(ctx, id); err != nil {
		_ = writeError(c, h.Log, err)
		return 0, false
	}
	admins, err := h.Groups.AdminIDs(ctx, id)
	if err != nil {
		_ = writeError(c, h.Log, err)
		return 0, false
	}
	if !authz.CanManage(p, authz.GroupResource{GroupID: id, AdminIDs: admins}) {
		_ = writeError(c, h.Log, service.ErrNotAuthorized)
		return 0, false
	}
	return id, true
}

func (h *EventHandler) addAdmin(c echo.Context, add func(context.Context, uint64) error) error {
	var req adminReq
	if err := c.Bind(&req); err != nil || req.UserID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}
	ctx := c.Request().Context()
	if _, err := h.Users.GetByID(ctx, req.UserID); errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	} else if err != nil {
		return writeError(c, h.Log, err)
	}
	err := add(ctx, req.UserID)
	if errors.Is(err, repository.ErrConflict) {
		return c.JSON(http.StatusOK, echo.Map{"detail": "already an admin"})
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"detail": "admin added"})
}

func (h *EventHandler) removeAdmin(c echo.Context, remove func(context.Context, uint64) error) error {
	uid, ok := pathID(c, "user_id")
	if !ok {
		return nil
	}
	err := remove(c.Request().Context(), uid)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not an admin"})
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.InfoContext(c.Request().Context(), "admin removed", "path", c.Path(), "user_id", uid)
	return c.JSON(http.StatusOK, echo.Map{"detail": "admin removed"})
}

func (h *EventHandler) purge(ctx context.Context) {
	if err := middleware.PurgeCache(context.WithoutCancel(ctx), h.Redis, h.CachePrefix); err != nil {
		h.Log.WarnContext(ctx, "event cache purge failed", "err", err)
	}
}
