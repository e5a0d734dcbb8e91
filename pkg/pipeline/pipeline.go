// Package pipeline is the thin adapter connecting a pipeline's cron
// schedule to the worker that embeds the Job Server: one capability set
// from the job-type registry, a cron trigger, and an event-driven
// completion-wait latch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alephauto/pkg/jobs"
	"alephauto/pkg/jobs/models"
	"alephauto/pkg/jobs/store"
	"alephauto/pkg/metrics"
)

// ErrWaitTimeout is returned by WaitForCompletion when the deadline elapses
// before the underlying engine goes idle.
var ErrWaitTimeout = errors.New("pipeline: wait for completion timed out")

// DefaultJob describes the job a cron firing enqueues.
type DefaultJob struct {
	Type    string
	Payload models.RawJSON
	Options models.Options
}

// Pipeline owns one worker's cron trigger and default-job definition; the
// worker itself is an *jobs.Engine with its handlers already registered.
type Pipeline struct {
	Name   string
	engine *jobs.Engine

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	entryID cron.EntryID
	job     DefaultJob

	lastScheduledAt time.Time
}

// New wraps engine with the adapter. engine must already have its handlers
// registered for the job type scheduleCron will enqueue.
func New(name string, engine *jobs.Engine) *Pipeline {
	return &Pipeline{
		Name:   name,
		engine: engine,
		cron:   cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// ScheduleCron registers a trigger that enqueues job whenever expr fires.
// Calling ScheduleCron again replaces the previous trigger.
func (p *Pipeline) ScheduleCron(expr string, job DefaultJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.entryID != 0 {
		p.cron.Remove(p.entryID)
	}
	p.job = job

	id, err := p.cron.AddFunc(expr, func() {
		p.mu.Lock()
		firedAt := time.Now().UTC()
		p.lastScheduledAt = firedAt
		j := p.job
		p.mu.Unlock()

		_, createErr := p.engine.CreateJob("", j.Type, j.Payload, j.Options)
		metrics.RecordPipelineDispatch(p.Name, time.Since(firedAt).Seconds())
		if createErr != nil {
			// The dispatcher logs via its own telemetry hooks; a cron
			// firing that can't enqueue (capacity, shutdown) is not fatal
			// to the schedule itself, so it's swallowed here.
			_ = createErr
		}
	})
	if err != nil {
		return fmt.Errorf("pipeline: invalid cron expression %q: %w", expr, err)
	}
	p.entryID = id

	if !p.started {
		p.cron.Start()
		p.started = true
	}
	return nil
}

// Stop halts the cron trigger. The underlying engine is left running.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		ctx := p.cron.Stop()
		<-ctx.Done()
	}
}

// WaitForCompletion resolves once the engine's queue is empty and no job is
// running, or returns ErrWaitTimeout. Listeners are registered before the
// already-idle condition is evaluated, closing the TOCTOU window a
// check-then-subscribe ordering would leave open.
func (p *Pipeline) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	ch := make(chan models.Event, 32)
	unsubscribe := p.engine.SubscribeAll(ch)
	defer unsubscribe()

	if p.idle() {
		return nil
	}

	deadline := time.After(timeout)
	for {
		select {
		case evt := <-ch:
			switch evt.Type {
			case models.EventQueueDrained, models.EventJobCompleted, models.EventJobFailed:
				if p.idle() {
					return nil
				}
			}
		case <-deadline:
			return ErrWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) idle() bool {
	counts, err := p.engine.GetCounts("")
	if err != nil {
		return false
	}
	return counts.Running == 0 && p.queueEmpty()
}

func (p *Pipeline) queueEmpty() bool {
	queued, err := p.engine.GetJobs(store.Filter{Status: models.StatusQueued, Limit: 1})
	if err != nil {
		return false
	}
	return len(queued) == 0
}

// Stats summarizes a pipeline's underlying worker for operational
// dashboards.
type Stats struct {
	Counts          store.Counts
	LastScheduledAt time.Time
}

// GetStats returns the worker's status counts alongside the pipeline's own
// scheduling bookkeeping.
func (p *Pipeline) GetStats() (Stats, error) {
	counts, err := p.engine.GetCounts("")
	if err != nil {
		return Stats{}, err
	}
	p.mu.Lock()
	last := p.lastScheduledAt
	p.mu.Unlock()
	return Stats{Counts: counts, LastScheduledAt: last}, nil
}
