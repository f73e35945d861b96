package model

import "time"

// DispatchRecord is one row of the dispatch audit log: a pipeline the
// bridge started on behalf of a trigger comment.
type DispatchRecord struct {
	ID           int64
	ProjectID    int64
	ProjectPath  string
	ResourceType ResourceType
	ResourceID   int64
	Branch       string
	PipelineID   int64
	Author       string
	CreatedAt    time.Time
}
