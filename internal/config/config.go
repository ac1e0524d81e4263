package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API      APIConfig
	Batch    BatchConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Output   OutputConfig
	Webhook  WebhookConfig
	Tracing  TracingConfig
}

type APIConfig struct {
	Addr              string
	RateLimitCapacity int
	RateLimitWindow   time.Duration
}

// BatchConfig bounds one transform call. DefaultQuality, when set, replaces
// the per-format encoder defaults for requests that omit quality.
type BatchConfig struct {
	MaxBytes       int64
	MaxFiles       int
	WorkerCount    int
	DefaultQuality int
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

// OutputConfig controls the local artifact store behind GET /v1/outputs.
type OutputConfig struct {
	Dir          string
	Retention    time.Duration
	SweepEvery   time.Duration
	PresignTTL   time.Duration
	OutputPrefix string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:              env("IMAGEPRESS_API_ADDR", ":8080"),
			RateLimitCapacity: envInt("IMAGEPRESS_RATE_LIMIT_CAPACITY", 30),
			RateLimitWindow:   envDuration("IMAGEPRESS_RATE_LIMIT_WINDOW", time.Minute),
		},
		Batch: BatchConfig{
			MaxBytes:       envInt64("IMAGEPRESS_MAX_BATCH_BYTES", 25*1024*1024),
			MaxFiles:       envInt("IMAGEPRESS_MAX_BATCH_FILES", 100),
			WorkerCount:    envInt("IMAGEPRESS_BATCH_WORKERS", max(2, runtime.NumCPU())),
			DefaultQuality: envInt("IMAGEPRESS_DEFAULT_QUALITY", 0),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("IMAGEPRESS_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "imagepress-batches"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Output: OutputConfig{
			Dir:          env("IMAGEPRESS_OUTPUT_DIR", "./.imagepress-output"),
			Retention:    envDuration("IMAGEPRESS_OUTPUT_RETENTION", time.Hour),
			SweepEvery:   envDuration("IMAGEPRESS_OUTPUT_SWEEP_EVERY", 5*time.Minute),
			PresignTTL:   envDuration("IMAGEPRESS_PRESIGN_TTL", 15*time.Minute),
			OutputPrefix: env("IMAGEPRESS_OUTPUT_PREFIX", "outputs"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("IMAGEPRESS_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("IMAGEPRESS_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("IMAGEPRESS_WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("IMAGEPRESS_WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("IMAGEPRESS_WEBHOOK_MAX_BACKOFF", 30*time.Second),
		},
		Tracing: TracingConfig{
			ServiceName:  env("IMAGEPRESS_SERVICE_NAME", "imagepress"),
			Exporter:     env("IMAGEPRESS_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
