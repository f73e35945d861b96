package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. The webhook handler seeds them once per request so
// downstream services don't repeat project/resource args on every call.
type LogFields struct {
	ProjectID    *int64
	ResourceType *string // "merge_request" or "issue"
	ResourceID   *int64
	Author       *string
	Component    string // e.g. "bridge.dispatch", "bridge.ratelimit"
}

// WithLogFields enriches context with structured log fields. Multiple
// calls merge fields, newer non-nil/non-empty values take precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context. Returns empty
// LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, update LogFields) LogFields {
	result := existing

	if update.ProjectID != nil {
		result.ProjectID = update.ProjectID
	}
	if update.ResourceType != nil {
		result.ResourceType = update.ResourceType
	}
	if update.ResourceID != nil {
		result.ResourceID = update.ResourceID
	}
	if update.Author != nil {
		result.Author = update.Author
	}
	if update.Component != "" {
		result.Component = update.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value, for setting
// LogFields inline.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..."
// if truncated. Useful for logging note bodies and prompts.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
