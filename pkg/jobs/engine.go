// Package jobs is the Job Server core engine: queue, concurrency gate,
// state machine, persistence, event emission, and the retry loop with its
// circuit breaker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"alephauto/pkg/classify"
	"alephauto/pkg/jobs/models"
	"alephauto/pkg/jobs/store"
	"alephauto/pkg/metrics"
)

// ErrCapacity is returned by CreateJob when the queue is at QueueMaxSize.
var ErrCapacity = errors.New("jobs: queue at capacity")

// ErrUnknownType is returned when no handler is registered for a job's type.
var ErrUnknownType = errors.New("jobs: no handler registered for type")

// ErrShuttingDown is returned by CreateJob once the engine has been asked
// to stop.
var ErrShuttingDown = errors.New("jobs: engine is shutting down")

// Engine is the Job Server: a single dispatcher fiber draining a bounded
// priority queue under a concurrency gate, invoking pluggable handlers,
// persisting every status transition, and emitting the event-stream types
// from §3.
type Engine struct {
	cfg         Config
	repo        store.JobRepository
	classifier  *classify.Classifier
	telemetry   Telemetry
	bus         *eventBus
	diagnostics LogStore
	tracer      trace.Tracer

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *jobQueue
	handlers map[string]Handler
	running  map[string]struct{}
	paused   bool
	stopping bool

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewEngine constructs an Engine. Call Start to begin dispatching.
func NewEngine(cfg Config, repo store.JobRepository, classifier *classify.Classifier, telemetry Telemetry) *Engine {
	e := &Engine{
		cfg:        cfg,
		repo:       repo,
		classifier: classifier,
		telemetry:  telemetry,
		bus:        newEventBus(),
		queue:      newJobQueue(cfg.QueueMaxSize),
		handlers:   make(map[string]Handler),
		running:    make(map[string]struct{}),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		tracer:     otel.Tracer("alephauto/jobs"),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// SetDiagnostics attaches a LogStore used to persist any logs a Handler
// returns via HandlerError. Optional; nil (the default) drops attached logs.
func (e *Engine) SetDiagnostics(ls LogStore) {
	e.diagnostics = ls
}

// RegisterHandler wires a worker's capability implementation for jobType.
func (e *Engine) RegisterHandler(jobType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[jobType] = h
}

// Subscribe registers ch against eventType ("*" for every event). Returns
// an unsubscribe func.
func (e *Engine) Subscribe(eventType models.EventType, ch chan models.Event) func() {
	return e.bus.Subscribe(eventType, ch)
}

// SubscribeAll subscribes ch to every event type.
func (e *Engine) SubscribeAll(ch chan models.Event) func() {
	return e.bus.Subscribe(wildcardType, ch)
}

// Start runs the dispatcher loop until ctx is cancelled or Drain is called.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.dispatchLoop(ctx)
}

// dispatchLoop is the single cooperative fiber that owns the job queue: pop
// the highest-priority ready job, acquire a concurrency slot, and hand
// execution off to its own goroutine while the loop returns immediately to
// consider the next job. No suspension happens while mu is held.
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		e.stopping = true
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		for !e.stopping && (e.paused || e.queue.Len() == 0) {
			e.cond.Wait()
		}
		if e.queue.Len() == 0 {
			done := e.stopping
			e.mu.Unlock()
			if done {
				return
			}
			continue
		}
		job := e.queue.Pop()
		e.running[job.ID] = struct{}{}
		metrics.QueueDepth.Set(float64(e.queue.Len()))
		metrics.ConcurrencySlotsInUse.Set(float64(len(e.running)))
		e.mu.Unlock()

		e.sem <- struct{}{}

		e.wg.Add(1)
		go e.runJob(job)
	}
}

// CreateJob enqueues a new job. id may be caller-chosen (e.g. a retry id)
// or left empty for server generation.
func (e *Engine) CreateJob(id, jobType string, data models.RawJSON, opts models.Options) (string, error) {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return "", ErrShuttingDown
	}
	if e.queue.Full() {
		e.mu.Unlock()
		return "", ErrCapacity
	}
	if _, ok := e.handlers[jobType]; !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownType, jobType)
	}
	e.mu.Unlock()

	job := &models.Job{
		ID:      id,
		Type:    jobType,
		Status:  models.StatusCreated,
		Payload: data,
		Options: applyOptionDefaults(opts, e.cfg),
	}
	if job.ID == "" {
		job.ID = newJobID()
	}
	job.OriginalID = models.OriginalID(job.ID)
	job.CreatedAt = time.Now().UTC()

	if err := e.repo.Save(context.Background(), job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}
	e.publish(models.EventJobCreated, job, false)

	if err := job.Transition(models.StatusQueued); err != nil {
		return "", err
	}
	if err := e.repo.Save(context.Background(), job); err != nil {
		return "", fmt.Errorf("persist queued job: %w", err)
	}
	e.publish(models.EventJobQueued, job, false)

	e.mu.Lock()
	e.queue.Push(job)
	metrics.QueueDepth.Set(float64(e.queue.Len()))
	e.cond.Signal()
	e.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(models.StatusQueued)).Inc()

	return job.ID, nil
}

func applyOptionDefaults(opts models.Options, cfg Config) models.Options {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if opts.RetryDelayMs == 0 {
		opts.RetryDelayMs = int(cfg.RetryDelay.Milliseconds())
	}
	if opts.TimeoutMs == 0 {
		opts.TimeoutMs = int(cfg.JobTimeout.Milliseconds())
	}
	return opts
}

type jobOutcome struct {
	result models.RawJSON
	err    error
}

// runJob executes one job end to end: mark it running, invoke its handler
// under a timeout with a cooperative-cancellation grace period, persist the
// outcome, and release the concurrency slot only once the handler goroutine
// has actually returned — even if that's later than the grace period, per
// §5's concurrency-limit invariant.
func (e *Engine) runJob(job *models.Job) {
	defer e.wg.Done()

	releaseSlot := func() {
		<-e.sem
		e.mu.Lock()
		delete(e.running, job.ID)
		metrics.ConcurrencySlotsInUse.Set(float64(len(e.running)))
		e.cond.Signal()
		e.maybeEmitDrained()
		e.mu.Unlock()
	}

	now := time.Now().UTC()
	job.StartedAt = &now
	if err := job.Transition(models.StatusRunning); err != nil {
		releaseSlot()
		return
	}
	_ = e.repo.Save(context.Background(), job)
	e.publish(models.EventJobStarted, job, false)

	e.mu.Lock()
	handler, ok := e.handlers[job.Type]
	e.mu.Unlock()
	if !ok {
		e.failJob(job, models.JobError{Message: "no handler registered", Category: classify.CategoryNonRetryable})
		releaseSlot()
		return
	}

	timeout := time.Duration(job.Options.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx, span := e.tracer.Start(ctx, "jobs.dispatch "+job.Type, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", job.Type),
		attribute.Int("job.priority", job.Options.Priority),
	))

	done := make(chan jobOutcome, 1)
	go func() {
		defer cancel()
		progress := func(percent int) {
			snapshot := models.CloneJob(job)
			snapshot.Progress = percent
			e.publish(models.EventJobProgress, snapshot, false)
		}
		result, err := handler(ctx, job, progress)
		done <- jobOutcome{result, err}
	}()

	select {
	case o := <-done:
		endJobSpan(span, o.err)
		e.finish(job, o)
		releaseSlot()
		return
	case <-ctx.Done():
	}

	// The timeout fired. Give the handler CancelGrace to notice ctx.Done()
	// and return on its own before declaring it failed.
	select {
	case o := <-done:
		endJobSpan(span, o.err)
		e.finish(job, o)
		releaseSlot()
	case <-time.After(e.cfg.CancelGrace):
		timeoutErr := fmt.Errorf("job exceeded timeoutMs")
		endJobSpan(span, timeoutErr)
		e.failJob(job, models.JobError{Message: timeoutErr.Error(), Category: classify.CategoryNonRetryable})
		// The handler goroutine may still be running past the grace
		// period; hold the concurrency slot until it actually returns
		// instead of releasing it based on the reported timeout.
		go func() {
			<-done
			releaseSlot()
		}()
	}
}

// endJobSpan closes a job-dispatch span, recording err (if any) as the
// span's terminal status.
func endJobSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) finish(job *models.Job, o jobOutcome) {
	if o.err != nil {
		jobErr := e.classify(o.err)
		jobErr.Stack = e.captureDiagnostics(job.ID, o.err)
		e.failJob(job, jobErr)
		return
	}
	e.completeJob(job, o.result)
}

func (e *Engine) classify(err error) models.JobError {
	meta := classify.Meta{Message: err.Error()}
	var he *HandlerError
	if errors.As(err, &he) {
		meta.Code = he.Code
		meta.HTTPStatus = he.HTTPStatus
	}
	info := e.classifier.Classify(meta)
	return models.JobError{
		Message:          err.Error(),
		Code:             info.Code,
		HTTPStatus:       info.HTTPStatus,
		Category:         info.Category,
		Retryable:        info.Retryable,
		SuggestedDelayMs: info.SuggestedDelayMs,
	}
}

func (e *Engine) completeJob(job *models.Job, result models.RawJSON) {
	now := time.Now().UTC()
	job.Result = result
	job.CompletedAt = &now
	if err := job.Transition(models.StatusCompleted); err != nil {
		return
	}
	_ = e.repo.Save(context.Background(), job)
	_ = e.repo.DeleteRetryInfo(context.Background(), job.OriginalID)
	e.recordOutcomeMetrics(job)
	e.publish(models.EventJobCompleted, job, false)
}

func (e *Engine) recordOutcomeMetrics(job *models.Job) {
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	var duration float64
	if job.StartedAt != nil && job.CompletedAt != nil {
		duration = job.CompletedAt.Sub(*job.StartedAt).Seconds()
	}
	metrics.RecordJobCompletion(job.Type, string(job.Status), duration)
}

func (e *Engine) failJob(job *models.Job, jobErr models.JobError) {
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Error = &jobErr

	retryScheduled := e.scheduleRetryIfEligible(job, jobErr)

	if err := job.Transition(models.StatusFailed); err != nil {
		return
	}
	_ = e.repo.Save(context.Background(), job)
	e.recordOutcomeMetrics(job)
	e.publish(models.EventJobFailed, job, retryScheduled)
}

// scheduleRetryIfEligible implements §4.F's retry orchestration. The retry
// table round-trip completes synchronously; the delay itself is slept in a
// detached goroutine so no lock, and no dispatcher resource, is held across
// the wait.
func (e *Engine) scheduleRetryIfEligible(job *models.Job, jobErr models.JobError) bool {
	ctx := context.Background()
	originalID := job.OriginalID

	info, err := e.repo.GetRetryInfo(ctx, originalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.telemetry.emitError("retry info lookup failed: "+err.Error(), job.ID)
		return false
	}
	if info == nil {
		info = &models.RetryInfo{
			OriginalID:  originalID,
			MaxAttempts: job.Options.MaxRetries,
			BaseDelayMs: job.Options.RetryDelayMs,
		}
	}
	info.Attempts++
	info.LastAttemptAt = time.Now().UTC()

	if info.Attempts >= models.AbsoluteMaxRetries {
		e.telemetry.emitError("circuit breaker triggered: absolute retry cap reached", job.ID)
		metrics.CircuitBreakerTrips.WithLabelValues(job.Type).Inc()
		_ = e.repo.DeleteRetryInfo(ctx, originalID)
		return false
	}
	if info.Attempts > info.MaxAttempts {
		e.telemetry.emitWarning("max retries reached", job.ID)
		_ = e.repo.DeleteRetryInfo(ctx, originalID)
		return false
	}
	if !jobErr.Retryable {
		_ = e.repo.DeleteRetryInfo(ctx, originalID)
		return false
	}

	baseDelay := jobErr.SuggestedDelayMs
	if baseDelay == 0 {
		baseDelay = info.BaseDelayMs
	}
	delay := time.Duration(float64(baseDelay)*math.Pow(2, float64(info.Attempts-1))) * time.Millisecond

	if info.Attempts >= 3 {
		e.telemetry.emitWarning("approaching retry limit", job.ID)
	}

	if err := e.repo.SaveRetryInfo(ctx, info); err != nil {
		e.telemetry.emitError("save retry info failed: "+err.Error(), job.ID)
		return false
	}

	metrics.RetriesTotal.WithLabelValues(job.Type).Inc()

	retryID := fmt.Sprintf("%s-retry%d", originalID, info.Attempts)
	payload := job.Payload
	opts := job.Options
	jobType := job.Type

	go func() {
		time.Sleep(delay)
		if _, err := e.CreateJob(retryID, jobType, payload, opts); err != nil {
			e.telemetry.emitError("retry re-enqueue failed: "+err.Error(), retryID)
		}
	}()

	return true
}

func (e *Engine) publish(t models.EventType, job *models.Job, retryScheduled bool) {
	e.bus.Publish(models.Event{
		Type:           t,
		Timestamp:      time.Now().UTC(),
		Job:            models.CloneJob(job),
		RetryScheduled: retryScheduled,
	})
}

// maybeEmitDrained publishes queue:drained once the queue is empty and no
// job is running. Must be called with mu held.
func (e *Engine) maybeEmitDrained() {
	if e.queue.Len() == 0 && len(e.running) == 0 {
		e.bus.Publish(models.Event{Type: models.EventQueueDrained, Timestamp: time.Now().UTC()})
	}
}

// Pause stops the dispatcher from pulling new jobs off the queue; running
// jobs continue to completion.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume undoes Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Drain refuses new CreateJob calls and waits up to timeout for every
// running job to reach a terminal state.
func (e *Engine) Drain(timeout time.Duration) error {
	e.mu.Lock()
	e.stopping = true
	e.cond.Broadcast()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("jobs: drain timed out after %s with jobs still running", timeout)
	}
}

// GetJob returns the current persisted snapshot for id.
func (e *Engine) GetJob(id string) (*models.Job, error) {
	return e.repo.Get(context.Background(), id)
}

// GetJobs returns jobs matching filter.
func (e *Engine) GetJobs(filter store.Filter) ([]models.Job, error) {
	return e.repo.Load(context.Background(), filter)
}

// GetCounts returns status counts for jobType.
func (e *Engine) GetCounts(jobType string) (store.Counts, error) {
	return e.repo.Counts(context.Background(), jobType)
}

func newJobID() string {
	return fmt.Sprintf("job-%d", time.Now().UTC().UnixNano())
}
