package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/mindspace/group-meditation/internal/gateway"
)

// SocketHandler upgrades authenticated requests to meditation websockets.
type SocketHandler struct {
	server *gateway.Server
}

func NewSocketHandler(server *gateway.Server) *SocketHandler {
	return &SocketHandler{server: server}
}

// Connect handles GET {WS_PATH}. The Auth middleware has already rejected
// requests without a valid credential, so no socket exists for them.
//
// @Summary      Open a group meditation websocket
// @Tags         groups
// @Security     BearerAuth
// @Param        token  query  string  false  "Bearer token for clients that cannot set headers"
// @Success      101    {string}  string  "Switching Protocols"
// @Failure      401    {object}  map[string]string
// @Router       /meditation/group [get]
func (h *SocketHandler) Connect(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	// Upgrade failures are answered by the upgrader itself.
	_ = h.server.Serve(c.Response(), c.Request(), identity)
	return nil
}
