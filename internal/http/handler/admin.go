package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"forgeline.dev/bridge/internal/service"
)

// AdminHandler exposes the automation kill switch. The toggle lives in
// the shared store, so flipping it here is observed by every instance.
type AdminHandler struct {
	killSwitch service.KillSwitch
}

func NewAdminHandler(killSwitch service.KillSwitch) *AdminHandler {
	return &AdminHandler{killSwitch: killSwitch}
}

func (h *AdminHandler) Disable(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.killSwitch.SetDisabled(ctx, true); err != nil {
		slog.ErrorContext(ctx, "failed to disable automation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update kill switch"})
		return
	}
	slog.WarnContext(ctx, "automation disabled via admin endpoint")
	c.String(http.StatusOK, "disabled")
}

func (h *AdminHandler) Enable(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.killSwitch.SetDisabled(ctx, false); err != nil {
		slog.ErrorContext(ctx, "failed to enable automation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update kill switch"})
		return
	}
	slog.InfoContext(ctx, "automation enabled via admin endpoint")
	c.String(http.StatusOK, "enabled")
}

func (h *AdminHandler) Status(c *gin.Context) {
	disabled := h.killSwitch.Disabled(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"disabled": disabled})
}
