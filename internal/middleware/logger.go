package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestID assigns every request an id (or keeps the inbound
// X-Request-Id) and echoes it back in the response header.
func RequestID() echo.MiddlewareFunc {
	inner := echo.WrapMiddleware(chimw.RequestID)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return inner(func(c echo.Context) error {
			if id := chimw.GetReqID(c.Request().Context()); id != "" {
				c.Response().Header().Set(chimw.RequestIDHeader, id)
			}
			return next(c)
		})
	}
}

// RequestLogger writes one structured line per request.
func RequestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.String("route", v.RoutePath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", chimw.GetReqID(c.Request().Context())),
			}
			if p, ok := PrincipalFrom(c); ok {
				attrs = append(attrs, slog.Uint64("user_id", p.UserID))
			}
			level := slog.LevelInfo
			switch {
			case v.Error != nil || v.Status >= http.StatusInternalServerError:
				level = slog.LevelError
				if v.Error != nil {
					attrs = append(attrs, slog.String("err", v.Error.Error()))
				}
			case v.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			log.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}
