package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	config "alephauto/configs"
	"alephauto/pkg/api"
	"alephauto/pkg/auth"
	"alephauto/pkg/bootstrap"
	"alephauto/pkg/classify"
	"alephauto/pkg/coordination/etcd"
	"alephauto/pkg/jobs"
	"alephauto/pkg/jobs/store"
	tracing "alephauto/pkg/observability"
	"alephauto/pkg/pipeline"
	"alephauto/pkg/secrets"
)

const serviceName = "alephauto-api"

// etcdSessionTTLSeconds is the lease lifetime backing every repo lock and
// worker registration; the session's keepalive renews it well before expiry.
const etcdSessionTTLSeconds = 10

func main() {
	cfg := config.LoadConfig()
	log.Println("[AlephAuto API] Starting up...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingCfg := tracing.DefaultConfig(serviceName)
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.Endpoint = cfg.TracingEndpoint
	tracingCfg.SamplingRate = cfg.TracingSampling
	tracerProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		log.Fatalf("[AlephAuto API] Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("[AlephAuto API] Tracer shutdown error: %v", err)
		}
	}()

	secretsProvider := secrets.NewProvider(
		secrets.NewEnvFetcher([]string{"DB_PASSWORD", "JWT_SECRET"}),
		cfg.CachePath,
	)

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	repo, err := store.NewPostgresStore(connStr)
	if err != nil {
		log.Fatalf("[AlephAuto API] Failed to initialize job repository: %v", err)
	}
	defer repo.Close()
	log.Println("[AlephAuto API] Postgres connected.")

	coordinator, err := etcd.New(cfg.EtcdEndpoints, etcdSessionTTLSeconds)
	if err != nil {
		log.Fatalf("[AlephAuto API] Failed to connect to etcd: %v", err)
	}
	defer coordinator.Close()
	log.Println("[AlephAuto API] Etcd connected.")

	engineCfg := jobs.DefaultConfig()
	engineCfg.MaxConcurrent = cfg.MaxConcurrent
	engineCfg.QueueMaxSize = cfg.QueueMaxSize
	engineCfg.JobTimeout = time.Duration(cfg.JobTimeoutMs) * time.Millisecond
	engineCfg.RetryDelay = time.Duration(cfg.RetryDelayMs) * time.Millisecond
	engineCfg.MaxRetries = cfg.MaxRetries
	engineCfg.ClassifierDefaultRetryable = cfg.ClassifierDefaultRetryable

	classifier := classify.New(cfg.ClassifierDefaultRetryable)
	telemetry := jobs.Telemetry{
		OnError:   func(msg, jobID string) { log.Printf("[AlephAuto API] job %s error: %s", jobID, msg) },
		OnWarning: func(msg, jobID string) { log.Printf("[AlephAuto API] job %s warning: %s", jobID, msg) },
	}
	engine := jobs.NewEngine(engineCfg, repo, classifier, telemetry)
	engine.Start(ctx)

	// The API process itself never registers domain handlers — those live
	// in cmd/worker. Any job type submitted here fails fast with
	// ErrUnknownType, which is surfaced as a 400 by the handler; a cluster
	// needs at least one worker process running to make progress.

	pipelines := map[string]*pipeline.Pipeline{}

	var jwtService *auth.JWTService
	var apiKeyStore auth.APIKeyStore
	if cfg.AuthEnabled {
		jwtCfg := auth.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.JWTSecret
		jwtCfg.Issuer = cfg.JWTIssuer
		jwtService, err = auth.NewJWTService(jwtCfg)
		if err != nil {
			log.Fatalf("[AlephAuto API] Failed to initialize JWT service: %v", err)
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		})
		apiKeyStore = auth.NewRedisAPIKeyStore(redisClient)
	}

	server := api.NewServer(api.Config{
		Engine:      engine,
		Pipelines:   pipelines,
		Coordinator: coordinator,
		Secrets:     secretsProvider,
		JWTService:  jwtService,
		APIKeyStore: apiKeyStore,
		ServiceName: serviceName,
	})

	ln, boundPort, err := bootstrap.Listen(cfg.PreferredPort, cfg.PortFallbackCount)
	if err != nil {
		log.Fatalf("[AlephAuto API] Failed to bind a port: %v", err)
	}
	log.Printf("[AlephAuto API] Listening on port %d", boundPort)

	if err := bootstrap.Serve(ctx, server.HTTPServer(), ln, cfg.DrainTimeout()); err != nil {
		log.Printf("[AlephAuto API] Server error: %v", err)
	}

	if err := engine.Drain(engineCfg.ShutdownGrace); err != nil {
		log.Printf("[AlephAuto API] Drain incomplete: %v", err)
	}

	log.Println("[AlephAuto API] Shutdown complete.")
}
