package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/middleware"
	"github.com/iliyamo/evento/internal/repository"
	"github.com/iliyamo/evento/internal/service"
)

// getUserID extracts the user_id set by JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get(middleware.KeyUserID).(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// principal returns the caller or writes a 401.
func principal(c echo.Context) (authz.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return p, ok
}

// pathID parses a positive numeric path parameter or writes a 400.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// statusFor maps a machine-readable error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "event_not_found", "registration_not_found", "wallet_not_found", "unknown_credential":
		return http.StatusNotFound
	case "deadline_passed", "capacity_exceeded", "insufficient_funds":
		return http.StatusConflict
	case "not_authorized":
		return http.StatusForbidden
	case "invalid_amount", "invalid_transaction_type":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": code, "message": ...}. Internal
// errors are logged and their text is not sent to the client.
func writeError(c echo.Context, log *slog.Logger, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "not found"})
	}
	code := service.Code(err)
	status := statusFor(code)
	body := echo.Map{"error": code}
	if status == http.StatusInternalServerError {
		log.ErrorContext(c.Request().Context(), "request failed", "path", c.Path(), "err", err)
		body["message"] = "internal error"
		return c.JSON(status, body)
	}
	body["message"] = err.Error()
	var ife *service.InsufficientFundsError
	if errors.As(err, &ife) {
		body["required"] = ife.Required.StringFixed(2)
		body["available"] = ife.Available.StringFixed(2)
		body["currency"] = ife.Currency
	}
	return c.JSON(status, body)
}
