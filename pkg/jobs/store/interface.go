// Package store provides the Job Server's persistence contract:
// JobRepository, with a GORM/Postgres implementation and an optional
// Redis Streams overflow queue for scale-out deployments.
package store

import (
	"context"
	"errors"

	"alephauto/pkg/jobs/models"
)

var (
	ErrNotFound = errors.New("store: job not found")
	ErrConflict = errors.New("store: conflicting write")
)

// Filter narrows a Load query. Zero-valued fields are not applied.
type Filter struct {
	Status     models.Status
	Type       string
	OriginalID string
	Limit      int
}

// Counts summarizes job status distribution for one pipeline (job type).
type Counts struct {
	Created   int64
	Queued    int64
	Running   int64
	Completed int64
	Failed    int64
}

// JobRepository is the Job Server's persistence contract, per §4.F:
// at-least-once write on status transitions, eventually-consistent reads.
// The server never re-drives completed/failed jobs on startup unless the
// repository explicitly returns them with status queued.
type JobRepository interface {
	Save(ctx context.Context, job *models.Job) error
	Load(ctx context.Context, filter Filter) ([]models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	Counts(ctx context.Context, jobType string) (Counts, error)
	Last(ctx context.Context, jobType string, status models.Status) (*models.Job, error)
	BulkImport(ctx context.Context, jobs []models.Job) error

	// RetryInfo bookkeeping, keyed by original id.
	GetRetryInfo(ctx context.Context, originalID string) (*models.RetryInfo, error)
	SaveRetryInfo(ctx context.Context, info *models.RetryInfo) error
	DeleteRetryInfo(ctx context.Context, originalID string) error
}
