package store

import (
	"context"
	"errors"

	"forgeline.dev/bridge/internal/model"
)

var ErrNotFound = errors.New("not found")

// DispatchLogStore records pipelines the bridge has started. Recording
// is best-effort from the dispatcher's point of view; the store itself
// still reports errors so callers can log them.
type DispatchLogStore interface {
	Record(ctx context.Context, rec *model.DispatchRecord) error
	ListByProject(ctx context.Context, projectID int64, limit int32) ([]model.DispatchRecord, error)
}
