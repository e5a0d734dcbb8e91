package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"alephauto/pkg/jobs"
	"alephauto/pkg/jobs/models"
	"alephauto/pkg/jobs/store"
)

// CreateJobRequest is the payload for POST /api/v1/jobs. Type selects a
// handler already registered on the engine; Data is opaque to the core.
type CreateJobRequest struct {
	Type    string         `json:"type" binding:"required"`
	Data    models.RawJSON `json:"data"`
	Options models.Options `json:"options"`
}

// CreateJobResponse echoes the assigned id so a caller can poll or stream.
type CreateJobResponse struct {
	ID string `json:"id"`
}

// createJob handles POST /api/v1/jobs
func (s *Server) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.validator.ValidateJobType(req.Type); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateData(req.Data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.engine.CreateJob("", req.Type, req.Data, req.Options)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrCapacity):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue at capacity"})
		case errors.Is(err, jobs.ErrUnknownType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, jobs.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, CreateJobResponse{ID: id})
}

// listJobs handles GET /api/v1/jobs?status=&type=&originalId=&limit=
func (s *Server) listJobs(c *gin.Context) {
	filter := store.Filter{
		Status:     models.Status(c.Query("status")),
		Type:       c.Query("type"),
		OriginalID: c.Query("originalId"),
		Limit:      50,
	}

	jobList, err := s.engine.GetJobs(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobList, "count": len(jobList)})
}

// getJob handles GET /api/v1/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	job, err := s.engine.GetJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// streamJobEvents handles GET /api/v1/jobs/:id/events — an SSE stream,
// from the moment of subscription, of the lifecycle events for one job and
// for the retry jobs whose original id is this id. The connection closes at
// the first terminal event that schedules no further retry.
func (s *Server) streamJobEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.GetJob(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ch := make(chan models.Event, 32)
	unsubscribe := s.engine.SubscribeAll(ch)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	for {
		select {
		case evt := <-ch:
			if evt.Job == nil || (evt.Job.ID != id && evt.Job.OriginalID != id) {
				continue
			}
			c.SSEvent(string(evt.Type), evt)
			c.Writer.Flush()
			if evt.Job.IsTerminal() && !evt.RetryScheduled {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
