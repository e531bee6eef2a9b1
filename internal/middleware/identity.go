package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evento/internal/authz"
)

// Context keys set by JWTAuth.
const (
	KeyUserID    = "user_id"
	KeyRole      = "role"
	KeyPrincipal = "principal"
)

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(c echo.Context) (authz.Principal, bool) {
	p, ok := c.Get(KeyPrincipal).(authz.Principal)
	return p, ok && p.UserID != 0
}

// userKey identifies the caller for rate limiting: the user id when
// authenticated, "anon" otherwise.
func userKey(c echo.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		return strconv.FormatUint(p.UserID, 10)
	}
	return "anon"
}
