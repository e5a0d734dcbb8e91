package pipeline

import (
	"context"
	"testing"
	"time"

	"alephauto/pkg/classify"
	"alephauto/pkg/jobs"
	"alephauto/pkg/jobs/models"
	"alephauto/pkg/jobs/store"
)

func testEngine(t *testing.T) *jobs.Engine {
	t.Helper()
	repo := store.NewMemoryStore()
	cfg := jobs.DefaultConfig()
	engine := jobs.NewEngine(cfg, repo, classify.New(true), jobs.Telemetry{})
	engine.RegisterHandler("sync-repo", func(ctx context.Context, job *models.Job, progress jobs.ProgressFunc) (models.RawJSON, error) {
		return models.RawJSON(`{"synced":true}`), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)
	return engine
}

func TestPipeline_ScheduleCronRejectsInvalidExpression(t *testing.T) {
	p := New("demo", testEngine(t))
	if err := p.ScheduleCron("not a cron expr !!", DefaultJob{Type: "sync-repo"}); err == nil {
		t.Errorf("expected invalid cron expression to be rejected")
	}
}

func TestPipeline_WaitForCompletionResolvesWhenAlreadyIdle(t *testing.T) {
	p := New("demo", testEngine(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.WaitForCompletion(ctx, time.Second); err != nil {
		t.Errorf("expected immediate resolution on idle engine, got %v", err)
	}
}

func TestPipeline_WaitForCompletionResolvesAfterJobFinishes(t *testing.T) {
	engine := testEngine(t)
	p := New("demo", engine)

	if _, err := engine.CreateJob("", "sync-repo", models.RawJSON(`{}`), models.Options{}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.WaitForCompletion(ctx, 2*time.Second); err != nil {
		t.Errorf("WaitForCompletion: %v", err)
	}
}

func TestPipeline_WaitForCompletionTimesOutWhenStuck(t *testing.T) {
	repo := store.NewMemoryStore()
	cfg := jobs.DefaultConfig()
	engine := jobs.NewEngine(cfg, repo, classify.New(true), jobs.Telemetry{})
	release := make(chan struct{})
	engine.RegisterHandler("stuck", func(ctx context.Context, job *models.Job, progress jobs.ProgressFunc) (models.RawJSON, error) {
		<-release
		return nil, nil
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	if _, err := engine.CreateJob("", "stuck", models.RawJSON(`{}`), models.Options{}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	p := New("demo", engine)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := p.WaitForCompletion(waitCtx, 100*time.Millisecond); err != ErrWaitTimeout {
		t.Errorf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestPipeline_GetStatsReflectsCounts(t *testing.T) {
	engine := testEngine(t)
	p := New("demo", engine)

	if _, err := engine.CreateJob("", "sync-repo", models.RawJSON(`{}`), models.Options{}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.WaitForCompletion(ctx, time.Second); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}

	stats, err := p.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Counts.Completed != 1 {
		t.Errorf("expected 1 completed job, got %d", stats.Counts.Completed)
	}
}
