package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"alephauto/pkg/api"
	"alephauto/pkg/classify"
	"alephauto/pkg/jobs"
	"alephauto/pkg/jobs/models"
	"alephauto/pkg/jobs/store"
	"alephauto/pkg/pipeline"
)

// IntegrationTestSuite exercises the Job Server end to end against a real
// Postgres-backed repository.
type IntegrationTestSuite struct {
	suite.Suite
	engine     *jobs.Engine
	store      *store.PostgresStore
	server     *api.Server
	httpServer *httptest.Server
	cancel     context.CancelFunc
}

func (s *IntegrationTestSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	gin.SetMode(gin.TestMode)

	dbHost := getEnv("TEST_DB_HOST", "localhost")
	dbPort := getEnv("TEST_DB_PORT", "5432")
	dbUser := getEnv("TEST_DB_USER", "alephauto")
	dbPass := getEnv("TEST_DB_PASS", "password")
	dbName := getEnv("TEST_DB_NAME", "alephauto_test")

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPass, dbName,
	)

	pgStore, err := store.NewPostgresStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = pgStore

	cfg := jobs.DefaultConfig()
	cfg.MaxConcurrent = 2
	classifier := classify.New(cfg.ClassifierDefaultRetryable)
	s.engine = jobs.NewEngine(cfg, pgStore, classifier, jobs.Telemetry{})

	s.engine.RegisterHandler("echo", func(ctx context.Context, job *models.Job, progress jobs.ProgressFunc) (models.RawJSON, error) {
		progress(100)
		return job.Payload, nil
	})
	s.engine.RegisterHandler("always-fails", func(ctx context.Context, job *models.Job, progress jobs.ProgressFunc) (models.RawJSON, error) {
		return nil, fmt.Errorf("rate limit exceeded, try again")
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.engine.Start(ctx)

	pipelines := map[string]*pipeline.Pipeline{
		"echo-pipeline": pipeline.New("echo-pipeline", s.engine),
	}

	s.server = api.NewServer(api.Config{
		Engine:    s.engine,
		Pipelines: pipelines,
	})
	s.httpServer = httptest.NewServer(s.server.Handler())
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// TestJobLifecycle drives a job through created -> queued -> running ->
// completed and checks the persisted record at each terminal point.
func (s *IntegrationTestSuite) TestJobLifecycle() {
	payload, _ := json.Marshal(map[string]string{"greeting": "hello world"})

	id, err := s.engine.CreateJob("", "echo", payload, models.Options{})
	require.NoError(s.T(), err, "failed to create job")

	job := s.waitForTerminal(id, 5*time.Second)
	require.NotNil(s.T(), job, "job did not reach a terminal state")
	assert.Equal(s.T(), models.StatusCompleted, job.Status)
	assert.JSONEq(s.T(), string(payload), string(job.Result))
}

// TestRetryBehavior checks that a retryable failure is re-enqueued under a
// derived "-retryN" id anchored to the same OriginalID.
func (s *IntegrationTestSuite) TestRetryBehavior() {
	id, err := s.engine.CreateJob("", "always-fails", nil, models.Options{MaxRetries: 2, RetryDelayMs: 1})
	require.NoError(s.T(), err)

	job := s.waitForTerminal(id, 5*time.Second)
	require.NotNil(s.T(), job)
	assert.Equal(s.T(), models.StatusFailed, job.Status)
	require.NotNil(s.T(), job.Error)
	assert.True(s.T(), job.Error.Retryable)

	// The classifier's message-pattern match always suggests its fixed
	// 5s backoff, so the
	// retry job doesn't appear until ~5s after the first failure.
	retryJob := s.waitForJob(id+"-retry1", 8*time.Second)
	require.NotNil(s.T(), retryJob, "expected a retry job to be created")
	assert.Equal(s.T(), id, retryJob.OriginalID)
}

// TestConcurrentJobs submits a batch to an engine with MaxConcurrent=2 and
// checks that every job reaches the completed state.
func (s *IntegrationTestSuite) TestConcurrentJobs() {
	const numJobs = 10
	ids := make([]string, 0, numJobs)
	for i := 0; i < numJobs; i++ {
		payload, _ := json.Marshal(map[string]int{"n": i})
		id, err := s.engine.CreateJob("", "echo", payload, models.Options{})
		require.NoError(s.T(), err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		job := s.waitForTerminal(id, 5*time.Second)
		require.NotNil(s.T(), job, "job %s did not complete", id)
		assert.Equal(s.T(), models.StatusCompleted, job.Status)
	}
}

// TestAPIEndpoints exercises the HTTP surface against the same engine.
func (s *IntegrationTestSuite) TestAPIEndpoints() {
	resp, err := s.httpServer.Client().Get(s.httpServer.URL + "/health")
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	assert.Equal(s.T(), 200, resp.StatusCode)
}

func (s *IntegrationTestSuite) waitForTerminal(id string, timeout time.Duration) *models.Job {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := s.engine.GetJob(id)
		if err == nil && job.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (s *IntegrationTestSuite) waitForJob(id string, timeout time.Duration) *models.Job {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if job, err := s.engine.GetJob(id); err == nil {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
