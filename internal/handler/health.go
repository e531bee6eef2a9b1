package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/evento/internal/database"
)

// HealthHandler reports liveness plus the state of the database and, when
// configured, Redis.
type HealthHandler struct {
	DB    *database.DB
	Redis *redis.Client
}

// Health answers GET /healthz. A database failure returns 503; a Redis
// failure only marks it degraded because every Redis feature fails open.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	out := echo.Map{"status": "ok", "database": "ok", "redis": "disabled"}
	status := http.StatusOK
	if err := h.DB.PingContext(ctx); err != nil {
		out["status"], out["database"] = "unavailable", err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.Redis != nil {
		out["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			out["redis"] = "degraded"
		}
	}
	return c.JSON(status, out)
}
