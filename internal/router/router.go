// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/evento/internal/handler"
	"github.com/iliyamo/evento/internal/middleware"
	"github.com/iliyamo/evento/internal/model"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Health       *handler.HealthHandler
	Auth         *handler.AuthHandler
	Registration *handler.RegistrationHandler
	Wallet       *handler.WalletHandler
	Event        *handler.EventHandler
}

// Middleware carries the Redis-backed middlewares; both are pass-through
// when Redis is off.
type Middleware struct {
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// Setup installs the global middleware chain: panic recovery, request id,
// structured access log and CORS.
func Setup(e *echo.Echo, log *slog.Logger, allowedOrigins []string) {
	e.HideBanner = true
	e.HidePort = true
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echo.WrapMiddleware(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	})))
}

// Register maps every route.
func Register(e *echo.Echo, h Handlers, mw Middleware, jwtSecret string) {
	if mw.RateLimit == nil {
		mw.RateLimit = passThrough
	}
	if mw.Cache == nil {
		mw.Cache = passThrough
	}

	e.GET("/healthz", h.Health.Health)

	// public catalogue
	e.GET("/v1/events", h.Event.List, mw.Cache)
	e.GET("/v1/events/search", h.Event.Search, mw.Cache)
	e.GET("/v1/events/:id", h.Event.Get, mw.Cache)

	a := e.Group("/v1/auth")
	a.POST("/register", h.Auth.Register)
	a.POST("/login", h.Auth.Login)
	a.POST("/refresh", h.Auth.Refresh)
	a.POST("/logout", h.Auth.Logout)
	a.POST("/handoff/redeem", h.Auth.RedeemHandoff)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleStaff, model.RoleAttendee))
	auth.GET("/me", h.Auth.Me)
	auth.POST("/auth/handoff", h.Auth.CreateHandoff)

	auth.POST("/registrations", h.Registration.Create, mw.RateLimit)
	auth.POST("/registrations/validate_qr", h.Registration.ValidateScan, mw.RateLimit)
	auth.GET("/my-registrations", h.Registration.Mine)
	auth.GET("/registrations/:id", h.Registration.Get)
	auth.GET("/registrations/:id/ticket", h.Registration.Ticket)
	auth.GET("/registrations/:id/qr", h.Registration.QR)
	auth.POST("/registrations/:id/validate_qr", h.Registration.ValidateByID)

	auth.GET("/wallets/mine", h.Wallet.Mine)
	auth.POST("/wallets/:id/add_funds", h.Wallet.AddFunds)
	auth.GET("/wallets/:id/transactions", h.Wallet.Transactions)
	staff := middleware.RequireRole(model.RoleStaff)
	auth.POST("/wallets/:id/refund", h.Wallet.Refund, staff)
	auth.POST("/wallets/:id/withdraw", h.Wallet.Withdraw, staff)
	auth.GET("/wallets/:id/reconcile", h.Wallet.Reconcile, staff)

	auth.POST("/events", h.Event.Create)
	auth.POST("/events/:id/admins", h.Event.AddAdmin)
	auth.DELETE("/events/:id/admins/:user_id", h.Event.RemoveAdmin)
	auth.GET("/events/:id/registrations", h.Event.Registrations)
	auth.GET("/events/:id/delivery-logs", h.Event.DeliveryLogs)
	auth.POST("/groups", h.Event.CreateGroup)
	auth.POST("/groups/:id/admins", h.Event.AddGroupAdmin)
	auth.DELETE("/groups/:id/admins/:user_id", h.Event.RemoveGroupAdmin)
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
