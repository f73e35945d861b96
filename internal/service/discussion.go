package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"forgeline.dev/bridge/common/logger"
	"forgeline.dev/bridge/internal/model"
	"forgeline.dev/bridge/internal/platform"
)

// MaxPromptChars is the ceiling for the aggregated instruction text.
// Pipeline variables reject large values, so the prompt is truncated
// with a visible marker rather than failing the dispatch.
const MaxPromptChars = 8000

const (
	truncationMarker = "\n...[truncated]"
	threadSeparator  = "\n\n---\n\n"
	promptMarker     = "=== User Prompt ==="
)

// DiscussionAggregator folds a discussion thread and the directly
// extracted instruction into a single prompt for the agent.
type DiscussionAggregator struct {
	platform platform.Client
}

func NewDiscussionAggregator(platform platform.Client) *DiscussionAggregator {
	return &DiscussionAggregator{platform: platform}
}

// BuildPrompt returns the aggregated prompt: conversation history
// first, the explicit ask last. Thread fetching is best-effort; on any
// failure the direct instruction alone is used.
func (a *DiscussionAggregator) BuildPrompt(ctx context.Context, event model.NoteEvent, instruction string) string {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bridge.discussion"})

	if event.DiscussionID == "" {
		return truncatePrompt(instruction)
	}

	notes, err := a.platform.GetDiscussionNotes(ctx, event)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch discussion thread, using direct instruction",
			"error", err,
			"discussion_id", event.DiscussionID,
		)
		return truncatePrompt(instruction)
	}
	if len(notes) == 0 {
		return truncatePrompt(instruction)
	}

	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})

	blocks := make([]string, 0, len(notes))
	for _, n := range notes {
		// System notes (branch created, label changed) are noise to
		// the agent.
		if n.System {
			continue
		}
		blocks = append(blocks, formatThreadNote(n))
	}
	if len(blocks) == 0 {
		return truncatePrompt(instruction)
	}

	prompt := fmt.Sprintf(
		"Conversation thread (oldest first):\n\n%s\n\n%s\n%s",
		strings.Join(blocks, threadSeparator),
		promptMarker,
		instruction,
	)

	return truncatePrompt(strings.TrimSpace(prompt))
}

func formatThreadNote(n model.ThreadNote) string {
	created := ""
	if !n.CreatedAt.IsZero() {
		created = fmt.Sprintf(" (%s)", n.CreatedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("@%s%s:\n%s", n.Author, created, strings.TrimSpace(n.Body))
}

func truncatePrompt(prompt string) string {
	if len(prompt) <= MaxPromptChars {
		return prompt
	}
	return prompt[:MaxPromptChars-len(truncationMarker)] + truncationMarker
}
