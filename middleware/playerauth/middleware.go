package playerauth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Daveeeu/skyrox-core/services/auth"
	"github.com/Daveeeu/skyrox-core/services/identity"
	"github.com/Daveeeu/skyrox-core/services/token"
)

const (
	IdentityKey = "_player_identity"
	TokenKey    = "_player_token"
)

// RequirePlayer authenticates the bearer access token and stores the owning
// identity in the echo context. Every rejection uses the same message so the
// response does not reveal whether a credential exists, is expired or is
// revoked.
func RequirePlayer(authService *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			secret := BearerToken(c)
			if secret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
			}

			ident, record, err := authService.ValidateAccess(c.Request().Context(), secret, auth.Request{
				IP:        c.RealIP(),
				UserAgent: c.Request().UserAgent(),
			})
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid credential")
			}

			c.Set(IdentityKey, ident)
			c.Set(TokenKey, record)

			return next(c)
		}
	}
}

// BearerToken extracts the bearer credential from the Authorization header,
// or "" when absent or malformed.
func BearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func CurrentIdentity(c echo.Context) *identity.Identity {
	if ident, ok := c.Get(IdentityKey).(*identity.Identity); ok {
		return ident
	}
	return nil
}

func CurrentToken(c echo.Context) *token.Token {
	if record, ok := c.Get(TokenKey).(*token.Token); ok {
		return record
	}
	return nil
}
