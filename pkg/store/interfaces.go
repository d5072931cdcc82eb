package store

import (
	"context"
	"time"

	"storyforge/pkg/model"
)

// JobStore persists job status snapshots so history survives restarts.
type JobStore interface {
	SaveJob(ctx context.Context, s model.JobStatus) error
	GetJob(ctx context.Context, id string) (*model.JobStatus, error)
	ListJobs(ctx context.Context, limit int) ([]model.JobStatus, error)
	PruneJobs(ctx context.Context, before time.Time) (int64, error)
	MarkInterrupted(ctx context.Context, message string) (int64, error)
}

// StateStore handles persistent application state (last used form values).
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
