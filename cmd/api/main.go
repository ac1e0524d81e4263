package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/imagepress/internal/api"
	"github.com/dunamismax/imagepress/internal/batch"
	"github.com/dunamismax/imagepress/internal/config"
	"github.com/dunamismax/imagepress/internal/pipeline"
	"github.com/dunamismax/imagepress/internal/queue"
	"github.com/dunamismax/imagepress/internal/ratelimit"
	"github.com/dunamismax/imagepress/internal/store"
	"github.com/dunamismax/imagepress/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	shutdownTracing, err := telemetry.SetupTracing(rootCtx, cfg.Tracing, logger)
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

	outputs, err := store.NewLocalStore(cfg.Output.Dir, cfg.Output.Retention)
	if err != nil {
		logger.Fatalf("output store setup failed: %v", err)
	}
	outputs.StartJanitor(rootCtx, cfg.Output.SweepEvery, logger)

	runner := batch.New(
		pipeline.NewCodec(),
		outputs,
		logger,
		batch.Limits{MaxBytes: cfg.Batch.MaxBytes, MaxFiles: cfg.Batch.MaxFiles},
		cfg.Batch.WorkerCount,
	)

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var jobStore store.JobStore
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(rootCtx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres setup failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
		logger.Printf("job store backend=postgres")
	} else {
		jobStore = store.NewMemoryJobStore()
		logger.Printf("job store backend=memory")
	}

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
	if err := objectStore.EnsureBucket(rootCtx); err != nil {
		logger.Printf("bucket check failed, deferred jobs may not work: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer redisClient.Close()

	limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitCapacity, cfg.API.RateLimitWindow, "")
	if err != nil {
		logger.Fatalf("rate limiter setup failed: %v", err)
	}

	app := api.NewServer(api.Config{
		Logger:         logger,
		Runner:         runner,
		Outputs:        outputs,
		Queue:          queueClient,
		Jobs:           jobStore,
		Storage:        objectStore,
		RateLimiter:    limiter,
		Tracer:         otel.Tracer("imagepress/api"),
		PresignTTL:     cfg.Output.PresignTTL,
		MaxBatchBytes:  cfg.Batch.MaxBytes,
		DefaultQuality: cfg.Batch.DefaultQuality,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-rootCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
