package webhook

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"forgeline.dev/bridge/internal/http/dto"
	"forgeline.dev/bridge/internal/service"
)

const (
	eventKindHeader = "X-Event-Kind"
	tokenHeader     = "X-Webhook-Token"

	noteHookKind = "Note Hook"
)

type GitLabWebhookHandler struct {
	secret     string
	dispatcher service.Dispatcher
}

func NewGitLabWebhookHandler(secret string, dispatcher service.Dispatcher) *GitLabWebhookHandler {
	return &GitLabWebhookHandler{
		secret:     secret,
		dispatcher: dispatcher,
	}
}

func (h *GitLabWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.GetHeader(tokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		slog.WarnContext(ctx, "webhook rejected: invalid token")
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	// Anything but a note event is expected noise from the platform's
	// webhook fan-out, not an error.
	eventKind := c.GetHeader(eventKindHeader)
	if eventKind != noteHookKind {
		slog.DebugContext(ctx, "ignoring event kind", "event_kind", eventKind)
		c.String(http.StatusOK, "ignored")
		return
	}

	var payload dto.NoteHookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		slog.WarnContext(ctx, "invalid webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event, err := payload.ToEvent()
	if err != nil {
		slog.WarnContext(ctx, "webhook payload failed validation", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.dispatcher.Dispatch(ctx, event)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoBranchRef):
			c.String(http.StatusBadRequest, "no-branch-ref")
		case errors.Is(err, service.ErrBranchCreation):
			c.String(http.StatusInternalServerError, "branch-creation-failed")
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger pipeline"})
		}
		return
	}

	if outcome.Status != service.StatusDispatched {
		c.String(http.StatusOK, string(outcome.Status))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     string(outcome.Status),
		"pipelineId": outcome.PipelineID,
		"branch":     outcome.Branch,
	})
}
