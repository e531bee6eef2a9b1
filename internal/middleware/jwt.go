package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evento/internal/authz"
	"github.com/iliyamo/evento/internal/model"
	"github.com/iliyamo/evento/internal/utils"
)

// JWTAuth validates a Bearer access token and stores the caller in the
// request context: "user_id" (uint64), "role" (string) and "principal"
// (authz.Principal). Handlers read them back with PrincipalFrom.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(KeyUserID, claims.UserID)
			c.Set(KeyRole, claims.Role)
			c.Set(KeyPrincipal, authz.Principal{UserID: claims.UserID, Staff: claims.Role == model.RoleStaff})
			return next(c)
		}
	}
}
