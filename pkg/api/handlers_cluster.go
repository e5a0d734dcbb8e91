package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listPipelines handles GET /api/v1/pipelines
func (s *Server) listPipelines(c *gin.Context) {
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": names})
}

// getPipelineStats handles GET /api/v1/pipelines/:name/stats
func (s *Server) getPipelineStats(c *gin.Context) {
	name := c.Param("name")
	p, ok := s.pipelines[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}

	stats, err := p.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// listWorkers handles GET /api/v1/cluster/workers
func (s *Server) listWorkers(c *gin.Context) {
	if s.coordinator == nil {
		c.JSON(http.StatusOK, gin.H{"workers": []string{}, "note": "coordination disabled"})
		return
	}

	workers, err := s.coordinator.ActiveWorkers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workers: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}

// listLocks handles GET /api/v1/cluster/locks — reports which repository
// paths are currently held, per the one-job-per-repo-path serialization
// policy.
func (s *Server) listLocks(c *gin.Context) {
	if s.coordinator == nil {
		c.JSON(http.StatusOK, gin.H{"locks": map[string]string{}, "note": "coordination disabled"})
		return
	}

	locks, err := s.coordinator.HeldLocks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list locks: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}
