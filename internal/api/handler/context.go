package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mindspace/group-meditation/internal/api/middleware"
	"github.com/mindspace/group-meditation/internal/core/domain"
)

// ctxIdentity extracts the identity injected by the Auth middleware. A missing
// or incomplete identity means the route was mounted without the middleware.
func ctxIdentity(c echo.Context) (domain.Identity, error) {
	id, ok := c.Get(middleware.IdentityKey).(domain.Identity)
	if !ok || id.UserID == "" {
		return domain.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication identity")
	}
	return id, nil
}
