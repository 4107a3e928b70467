package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
)

// IdentityKey is the echo context key holding the verified domain.Identity.
const IdentityKey = "identity"

// Auth verifies the bearer credential and injects the identity into context.
// The credential comes from the Authorization header or, for browser
// websocket clients that cannot set headers, the token query parameter.
func Auth(verifier ports.CredentialVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c)
			if err != nil {
				return err
			}

			identity, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, authMessage(err))
			}

			c.Set(IdentityKey, identity)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return c.QueryParam("token"), nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
	}
	return parts[1], nil
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingToken):
		return "missing credentials"
	case errors.Is(err, domain.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, domain.ErrTokenRevoked):
		return "token revoked"
	default:
		return "invalid token"
	}
}
