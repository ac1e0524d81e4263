package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dunamismax/imagepress/internal/batch"
	"github.com/dunamismax/imagepress/internal/config"
	"github.com/dunamismax/imagepress/internal/pipeline"
	"github.com/dunamismax/imagepress/internal/store"
	"github.com/dunamismax/imagepress/internal/telemetry"
	"github.com/dunamismax/imagepress/internal/webhook"
	"github.com/dunamismax/imagepress/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.Tracing, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	pipeline.Startup()
	defer pipeline.Shutdown()

	objectStore, err := store.NewObjectStore(store.ObjectConfig{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
		Prefix:   cfg.Output.OutputPrefix,
	})
	if err != nil {
		logger.Fatalf("object store setup failed: %v", err)
	}
	if err := objectStore.EnsureBucket(context.Background()); err != nil {
		logger.Fatalf("bucket check failed: %v", err)
	}

	var jobStore store.JobStore
	var usageStore store.UsageStore
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(context.Background(), cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres setup failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
		usageStore = pg
		logger.Printf("job store backend=postgres")
	} else {
		mem := store.NewMemoryJobStore()
		jobStore = mem
		usageStore = mem
		logger.Printf("job store backend=memory")
	}

	runner := batch.New(
		pipeline.NewCodec(),
		objectStore,
		logger,
		batch.Limits{MaxBytes: cfg.Batch.MaxBytes, MaxFiles: cfg.Batch.MaxFiles},
		cfg.Batch.WorkerCount,
	)

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		runner,
		objectStore,
		webhookClient,
		jobStore,
		usageStore,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", srv.MetricsHandler())
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
