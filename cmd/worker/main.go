// Command worker is the standalone dispatcher-only process: it runs the
// same Job Server engine as cmd/api but registers the actual capability
// handlers (Git Workflow Manager, Migration Transformer) instead of
// serving the HTTP surface. A cluster needs at least one worker process
// to make progress on any job type.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	config "alephauto/configs"
	"alephauto/pkg/classify"
	"alephauto/pkg/coordination"
	"alephauto/pkg/coordination/etcd"
	"alephauto/pkg/gitflow"
	"alephauto/pkg/jobs"
	"alephauto/pkg/jobs/models"
	"alephauto/pkg/jobs/store"
	"alephauto/pkg/migrate"
	tracing "alephauto/pkg/observability"
)

const serviceName = "alephauto-worker"

// newDiagnosticsStore picks an S3-backed log store when a bucket is
// configured, falling back to the local filesystem otherwise.
func newDiagnosticsStore(cfg *config.Config) (jobs.LogStore, error) {
	if cfg.LogStoreBucket != "" {
		return jobs.NewS3LogStore(jobs.S3LogStoreConfig{
			Bucket:        cfg.LogStoreBucket,
			Prefix:        "job-logs/",
			Region:        cfg.LogStoreRegion,
			Endpoint:      cfg.LogStoreEndpoint,
			LocalCacheDir: cfg.LogStoreLocalDir,
		})
	}
	return jobs.NewLocalLogStore(cfg.LogStoreLocalDir)
}

// etcdSessionTTLSeconds mirrors cmd/api's lease lifetime; both processes
// register under the same etcd prefixes so locks and worker rosters are
// shared across the cluster regardless of which binary acquired them.
const etcdSessionTTLSeconds = 10

func main() {
	cfg := config.LoadConfig()
	log.Println("[AlephAuto Worker] Starting up...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingCfg := tracing.DefaultConfig(serviceName)
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.Endpoint = cfg.TracingEndpoint
	tracingCfg.SamplingRate = cfg.TracingSampling
	tracerProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		log.Fatalf("[AlephAuto Worker] Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("[AlephAuto Worker] Tracer shutdown error: %v", err)
		}
	}()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	repo, err := store.NewPostgresStore(connStr)
	if err != nil {
		log.Fatalf("[AlephAuto Worker] Failed to initialize job repository: %v", err)
	}
	defer repo.Close()
	log.Println("[AlephAuto Worker] Postgres connected.")

	coordinator, err := etcd.New(cfg.EtcdEndpoints, etcdSessionTTLSeconds)
	if err != nil {
		log.Fatalf("[AlephAuto Worker] Failed to connect to etcd: %v", err)
	}
	defer coordinator.Close()

	workerID := fmt.Sprintf("worker-%d", os.Getpid())
	if err := coordinator.RegisterWorker(ctx, workerID); err != nil {
		log.Fatalf("[AlephAuto Worker] Failed to register with cluster: %v", err)
	}
	log.Printf("[AlephAuto Worker] Registered as %s", workerID)

	engineCfg := jobs.DefaultConfig()
	engineCfg.MaxConcurrent = cfg.MaxConcurrent
	engineCfg.QueueMaxSize = cfg.QueueMaxSize
	engineCfg.MaxRetries = cfg.MaxRetries
	engineCfg.ClassifierDefaultRetryable = cfg.ClassifierDefaultRetryable

	classifier := classify.New(cfg.ClassifierDefaultRetryable)
	telemetry := jobs.Telemetry{
		OnError:   func(msg, jobID string) { log.Printf("[AlephAuto Worker] job %s error: %s", jobID, msg) },
		OnWarning: func(msg, jobID string) { log.Printf("[AlephAuto Worker] job %s warning: %s", jobID, msg) },
	}
	engine := jobs.NewEngine(engineCfg, repo, classifier, telemetry)

	if diagnostics, err := newDiagnosticsStore(cfg); err != nil {
		log.Printf("[AlephAuto Worker] diagnostics log store unavailable, attached job logs will be dropped: %v", err)
	} else {
		engine.SetDiagnostics(diagnostics)
	}

	prCreator := gitflow.PullRequestCreator(gitflow.NoopPullRequestCreator{})
	if !cfg.DryRun {
		prCreator = gitflow.GHCLIPullRequestCreator{Base: cfg.BaseBranch}
	}

	w := &gitWorkflowWorker{
		coordinator:  coordinator,
		baseBranch:   cfg.BaseBranch,
		branchPrefix: cfg.BranchPrefix,
		dryRun:       cfg.DryRun,
		excludeDirs:  cfg.ExcludeDirs,
		prCreator:    prCreator,
		tracer:       otel.Tracer("alephauto/gitflow"),
	}

	engine.RegisterHandler("sync-repo", w.syncRepo)
	engine.RegisterHandler("apply-migration", w.applyMigration)

	engine.Start(ctx)
	log.Println("[AlephAuto Worker] Dispatcher running.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[AlephAuto Worker] Shutdown signal received, draining...")

	cancel()
	if err := engine.Drain(engineCfg.ShutdownGrace); err != nil {
		log.Printf("[AlephAuto Worker] Drain incomplete: %v", err)
	}
	log.Println("[AlephAuto Worker] Shutdown complete.")
}

// gitWorkflowWorker holds the capability handlers' shared configuration.
// Every handler serializes on its job's RepoPath via the coordinator before
// touching the working tree, per §5's "one job per repository path at a
// time" invariant.
type gitWorkflowWorker struct {
	coordinator  coordination.Coordinator
	baseBranch   string
	branchPrefix string
	dryRun       bool
	excludeDirs  []string
	prCreator    gitflow.PullRequestCreator
	tracer       trace.Tracer
}

// syncRepoPayload is the "sync-repo" job type's input: a no-op fast-forward
// check used to confirm a repository path is reachable and clean before
// heavier job types are scheduled against it.
type syncRepoPayload struct {
	RepoPath string `json:"repoPath"`
}

func (w *gitWorkflowWorker) syncRepo(ctx context.Context, job *models.Job, progress jobs.ProgressFunc) (models.RawJSON, error) {
	var in syncRepoPayload
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return nil, fmt.Errorf("decode sync-repo payload: %w", err)
	}
	if in.RepoPath == "" {
		return nil, fmt.Errorf("sync-repo: repoPath is required")
	}

	if err := w.coordinator.Lock(ctx, in.RepoPath); err != nil {
		return nil, fmt.Errorf("acquire repo lock: %w", err)
	}
	defer w.coordinator.Unlock(ctx, in.RepoPath)

	ctx, span := w.tracer.Start(ctx, "gitflow.sync_repo", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("repo.path", in.RepoPath),
	))
	defer span.End()

	repo := gitflow.NewRepo(in.RepoPath, w.baseBranch, w.branchPrefix, w.dryRun, w.prCreator)
	progress(50)

	result, err := json.Marshal(map[string]interface{}{
		"repoPath": in.RepoPath,
		"isRepo":   repo.IsRepo(),
		"clean":    !repo.HasChanges(),
	})
	if err != nil {
		return nil, err
	}
	progress(100)
	return models.RawJSON(result), nil
}

// applyMigrationPayload is the "apply-migration" job type's input: a
// repository path, a batch of free-text migration step descriptions, and
// the commit/PR metadata to use once the transformer has run.
type applyMigrationPayload struct {
	RepoPath       string   `json:"repoPath"`
	Steps          []string `json:"steps"`
	Description    string   `json:"description"`
	CommitMessage  string   `json:"commitMessage"`
	PRTitle        string   `json:"prTitle"`
	PRBody         string   `json:"prBody"`
	Labels         []string `json:"labels"`
}

func (w *gitWorkflowWorker) applyMigration(ctx context.Context, job *models.Job, progress jobs.ProgressFunc) (result models.RawJSON, err error) {
	var in applyMigrationPayload
	if err := json.Unmarshal(job.Payload, &in); err != nil {
		return nil, fmt.Errorf("decode apply-migration payload: %w", err)
	}
	if in.RepoPath == "" {
		return nil, fmt.Errorf("apply-migration: repoPath is required")
	}

	if err := w.coordinator.Lock(ctx, in.RepoPath); err != nil {
		return nil, fmt.Errorf("acquire repo lock: %w", err)
	}
	defer w.coordinator.Unlock(ctx, in.RepoPath)

	ctx, span := w.tracer.Start(ctx, "migrate.apply_migration", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("repo.path", in.RepoPath),
		attribute.Int("migrate.step_count", len(in.Steps)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	steps := make([]migrate.Step, 0, len(in.Steps))
	var dropped []string
	for _, raw := range in.Steps {
		step, ok := migrate.ParseStep(raw)
		if !ok {
			dropped = append(dropped, raw)
			continue
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, &jobs.HandlerError{
			Err:  fmt.Errorf("apply-migration: no valid step descriptions in %d input(s)", len(in.Steps)),
			Logs: []byte(fmt.Sprintf("dropped steps: %v", dropped)),
		}
	}
	progress(20)

	repoDesc := gitflow.NewRepo(in.RepoPath, w.baseBranch, w.branchPrefix, w.dryRun, w.prCreator)
	branch, err := repoDesc.CreateJobBranch(gitflow.JobBranchOptions{
		JobID:       job.ID,
		JobType:     job.Type,
		Description: in.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("create job branch: %w", err)
	}
	progress(40)

	runResult, err := migrate.Run(migrate.Options{
		Root:        in.RepoPath,
		ExcludeDirs: w.excludeDirs,
		DryRun:      w.dryRun,
	}, steps, func(droppedStep string) {
		log.Printf("[AlephAuto Worker] job %s: migration step dropped during targeting: %s", job.ID, droppedStep)
	})
	if err != nil {
		repoDesc.CleanupBranch(branch.BranchName, branch.OriginalBranch)
		return nil, &jobs.HandlerError{
			Err:  fmt.Errorf("run migration: %w", err),
			Logs: []byte(fmt.Sprintf("applied=%v unchanged=%v parseErrors=%v", runResult.Applied, runResult.Unchanged, runResult.ParseErrors)),
		}
	}
	progress(70)

	commitMsg := in.CommitMessage
	if commitMsg == "" {
		commitMsg = fmt.Sprintf("Apply %d migration step(s)", len(steps))
	}
	sha, err := repoDesc.CommitChanges(gitflow.CommitOptions{
		Message:     commitMsg,
		JobID:       job.ID,
		Description: in.Description,
	})
	if err != nil {
		repoDesc.CleanupBranch(branch.BranchName, branch.OriginalBranch)
		return nil, fmt.Errorf("commit migration changes: %w", err)
	}
	progress(85)

	var prURL string
	if sha != "" {
		if !repoDesc.PushBranch(branch.BranchName) {
			log.Printf("[AlephAuto Worker] job %s: push failed, branch left local: %s", job.ID, branch.BranchName)
		} else {
			prTitle := in.PRTitle
			if prTitle == "" {
				prTitle = commitMsg
			}
			url, prErr := repoDesc.CreatePullRequest(gitflow.PullRequestOptions{
				BranchName: branch.BranchName,
				Title:      prTitle,
				Body:       in.PRBody,
				Labels:     in.Labels,
			})
			if prErr != nil {
				log.Printf("[AlephAuto Worker] job %s: PR creation failed: %v", job.ID, prErr)
			}
			prURL = url
		}
	}
	progress(100)

	out, err := json.Marshal(map[string]interface{}{
		"branch":    branch.BranchName,
		"commit":    sha,
		"pullURL":   prURL,
		"applied":   runResult.Applied,
		"unchanged": runResult.Unchanged,
		"stashRef":  runResult.StashRef,
	})
	if err != nil {
		return nil, err
	}
	return models.RawJSON(out), nil
}
