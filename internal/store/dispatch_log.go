package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"forgeline.dev/bridge/internal/model"
)

type dispatchLogStore struct {
	pool *pgxpool.Pool
}

func NewDispatchLogStore(pool *pgxpool.Pool) DispatchLogStore {
	return &dispatchLogStore{pool: pool}
}

func (s *dispatchLogStore) Record(ctx context.Context, rec *model.DispatchRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_log (id, project_id, project_path, resource_type, resource_id, branch, pipeline_id, author)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		rec.ProjectID,
		rec.ProjectPath,
		string(rec.ResourceType),
		rec.ResourceID,
		rec.Branch,
		rec.PipelineID,
		rec.Author,
	)
	return err
}

func (s *dispatchLogStore) ListByProject(ctx context.Context, projectID int64, limit int32) ([]model.DispatchRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, project_path, resource_type, resource_id, branch, pipeline_id, author, created_at
		FROM dispatch_log
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.DispatchRecord
	for rows.Next() {
		var rec model.DispatchRecord
		var resourceType string
		if err := rows.Scan(
			&rec.ID,
			&rec.ProjectID,
			&rec.ProjectPath,
			&resourceType,
			&rec.ResourceID,
			&rec.Branch,
			&rec.PipelineID,
			&rec.Author,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.ResourceType = model.ResourceType(resourceType)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// NoopDispatchLogStore is used when no database is configured.
type NoopDispatchLogStore struct{}

func (NoopDispatchLogStore) Record(context.Context, *model.DispatchRecord) error {
	return nil
}

func (NoopDispatchLogStore) ListByProject(context.Context, int64, int32) ([]model.DispatchRecord, error) {
	return nil, nil
}
