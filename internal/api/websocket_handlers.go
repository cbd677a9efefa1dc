// internal/api/websocket_handlers.go
package api

import (
	"github.com/gin-gonic/gin"
)

// SessionWebSocket streams a session's events. The session must exist
// before the upgrade.
func (h *Handler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.Game.SessionState(c.Request.Context(), sessionID); err != nil {
		h.Response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return
	}
	h.WebSockets.Attach(sessionID, conn)
}

// GetWebSocketStatus reports live feed connections.
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WebSockets.GetStatus())
}
