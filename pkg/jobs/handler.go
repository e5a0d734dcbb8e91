package jobs

import (
	"context"

	"alephauto/pkg/jobs/models"
)

// ProgressFunc lets a handler report a monotonically increasing progress
// value in [0,100]; the engine forwards it to job:progress subscribers
// without changing the job's status.
type ProgressFunc func(percent int)

// Handler is supplied by a worker — the pipeline's capability
// implementation — and does the job's actual work. A returned error is
// passed through the classifier to decide retry eligibility.
type Handler func(ctx context.Context, job *models.Job, progress ProgressFunc) (models.RawJSON, error)

// Telemetry receives severity-tagged engine events: circuit-breaker trips,
// max-retries-reached, approaching-retry-limit warnings.
type Telemetry struct {
	OnError   func(msg string, jobID string)
	OnWarning func(msg string, jobID string)
	OnInfo    func(msg string, jobID string)
}

func (t Telemetry) emitError(msg, jobID string) {
	if t.OnError != nil {
		t.OnError(msg, jobID)
	}
}

func (t Telemetry) emitWarning(msg, jobID string) {
	if t.OnWarning != nil {
		t.OnWarning(msg, jobID)
	}
}

func (t Telemetry) emitInfo(msg, jobID string) {
	if t.OnInfo != nil {
		t.OnInfo(msg, jobID)
	}
}
