package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alephauto/pkg/api/middleware"
	"alephauto/pkg/auth"
	"alephauto/pkg/bootstrap"
	"alephauto/pkg/coordination"
	"alephauto/pkg/jobs"
	"alephauto/pkg/pipeline"
	"alephauto/pkg/secrets"
)

// Server is AlephAuto's thin query/trigger HTTP surface: job creation and
// lookup, the SSE event stream, pipeline stats, cluster health, and the
// standard health/metrics endpoints.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	engine      *jobs.Engine
	pipelines   map[string]*pipeline.Pipeline
	coordinator coordination.Coordinator
	secrets     *secrets.Provider
	validator   *middleware.Validator
}

// Config wires the Server's dependencies.
type Config struct {
	Engine      *jobs.Engine
	Pipelines   map[string]*pipeline.Pipeline
	Coordinator coordination.Coordinator
	Secrets     *secrets.Provider
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	ServiceName string
}

// NewServer builds the router, middleware chain, and route table.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "alephauto-api"
	}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware(serviceName))
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	s := &Server{
		router:      router,
		engine:      cfg.Engine,
		pipelines:   cfg.Pipelines,
		coordinator: cfg.Coordinator,
		secrets:     cfg.Secrets,
		validator:   middleware.NewValidator(middleware.DefaultValidatorConfig()),
	}

	authCfg := middleware.AuthConfig{
		JWTService:  cfg.JWTService,
		APIKeyStore: cfg.APIKeyStore,
		// matchPath's wildcard is a prefix match against the request path,
		// so "/api/v1/jobs/" (with the trailing slash) only ever matches the
		// per-job sub-resources (/:id, /:id/events) — never the bare
		// "/api/v1/jobs" collection route that POST and the list GET use.
		// Mutating job creation always stays behind auth.
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/api/v1/jobs/*",
		},
	}
	s.registerRoutes(authCfg)

	s.httpServer = &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event stream route holds connections open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the underlying http.Handler, for use with pkg/bootstrap's
// Listen/Serve.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer returns the *http.Server, for use with pkg/bootstrap.Serve.
func (s *Server) HTTPServer() *http.Server { return s.httpServer }

// Start begins listening on ln.
func (s *Server) Start(ctx context.Context) error {
	log.Println("[api] starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("[api] shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(authCfg middleware.AuthConfig) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(authCfg))
	{
		jobsGroup := v1.Group("/jobs")
		{
			jobsGroup.POST("", s.createJob)
			jobsGroup.GET("", s.listJobs)
			jobsGroup.GET("/:id", s.getJob)
			jobsGroup.GET("/:id/events", s.streamJobEvents)
		}

		pipelinesGroup := v1.Group("/pipelines")
		{
			pipelinesGroup.GET("", s.listPipelines)
			pipelinesGroup.GET("/:name/stats", s.getPipelineStats)
		}

		cluster := v1.Group("/cluster")
		{
			cluster.GET("/workers", s.listWorkers)
			cluster.GET("/locks", s.listLocks)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Printf("[api] %s %s %d %v", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	deps := gin.H{
		"jobs":        s.engine != nil,
		"coordinator": s.coordinator != nil,
	}
	if s.secrets != nil {
		health := s.secrets.Health()
		deps["secrets"] = health.State
	}

	healthy := s.engine != nil
	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	}
	if cap, err := bootstrap.ReadCapacity(c.Request.Context()); err == nil {
		body["capacity"] = cap
	}

	c.JSON(httpStatus, body)
}
