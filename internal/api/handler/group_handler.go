package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mindspace/group-meditation/internal/core/ports"
)

// GroupHandler serves read-only views of meditation groups.
type GroupHandler struct {
	coordinator ports.GroupCoordinator
}

func NewGroupHandler(coordinator ports.GroupCoordinator) *GroupHandler {
	return &GroupHandler{coordinator: coordinator}
}

type groupRequest struct {
	GroupID string `param:"group_id" validate:"required,max=128"`
}

// Snapshot handles GET /v1/groups/:group_id.
//
// @Summary      Get the live state of a meditation group
// @Tags         groups
// @Produce      json
// @Security     BearerAuth
// @Param        group_id  path      string  true  "Group id (e.g. room-7)"
// @Success      200       {object}  domain.GroupSnapshot
// @Failure      400       {object}  map[string]string
// @Failure      401       {object}  map[string]string
// @Failure      503       {object}  map[string]string
// @Router       /v1/groups/{group_id} [get]
func (h *GroupHandler) Snapshot(c echo.Context) error {
	if _, err := ctxIdentity(c); err != nil {
		return err
	}

	var req groupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid group id")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	snap, err := h.coordinator.Snapshot(c.Request().Context(), req.GroupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}
