package permission

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Daveeeu/skyrox-core/middleware/playerauth"
	"github.com/Daveeeu/skyrox-core/services/permcache"
)

// Require gates a route on the authenticated player holding the named
// permission. Must run after playerauth.RequirePlayer.
func Require(cache *permcache.Service, permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident := playerauth.CurrentIdentity(c)
			if ident == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
			}

			granted, err := cache.HasPermission(c.Request().Context(), ident.ID, permission)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "permission check failed")
			}
			if !granted {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}

			return next(c)
		}
	}
}

// RequireRole gates a route on role membership rather than a permission.
func RequireRole(cache *permcache.Service, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident := playerauth.CurrentIdentity(c)
			if ident == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
			}

			snapshot, err := cache.Get(c.Request().Context(), ident.ID)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "permission check failed")
			}
			if !snapshot.HasRole(role) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}

			return next(c)
		}
	}
}
