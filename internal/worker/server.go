package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/imagepress/internal/batch"
	"github.com/dunamismax/imagepress/internal/config"
	"github.com/dunamismax/imagepress/internal/domain"
	"github.com/dunamismax/imagepress/internal/queue"
	"github.com/dunamismax/imagepress/internal/store"
)

type batchRunner interface {
	Run(ctx context.Context, files []batch.File, opts domain.Options) (domain.BatchOutcome, error)
}

type sourceReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Server consumes deferred batch tasks: it fetches the pre-uploaded sources,
// runs them through the transform pipeline, persists the outcome on the job
// record, and notifies the webhook endpoint.
type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	runner        batchRunner
	sources       sourceReader
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	runner batchRunner,
	sources sourceReader,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("batch runner is required")
	}
	if sources == nil {
		return nil, fmt.Errorf("source reader is required")
	}

	if usageStore == nil {
		if combined, ok := jobStore.(store.UsageStore); ok {
			usageStore = combined
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		runner:        runner,
		sources:       sources,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		usageStore:    usageStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imagepress/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransformBatch, s.handleTransformBatch)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTransformBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	finalStatus := domain.JobStatusFailed

	payload, err := queue.ParseTransformBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.transform_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int("job.file_count", len(payload.ObjectKeys)),
		attribute.String("job.mode", payload.Options.Mode),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(finalStatus).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(finalStatus).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("Working... job_id=%s files=%d mode=%s", payload.JobID, len(payload.ObjectKeys), payload.Options.Mode)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	files, err := s.fetchSources(ctx, payload.ObjectKeys)
	if err != nil {
		s.failJob(ctx, span, payload, err)
		return fmt.Errorf("fetch sources: %w", err)
	}

	outcome, err := s.runner.Run(ctx, files, payload.Options)
	if err != nil {
		s.failJob(ctx, span, payload, err)
		// Batch validation will not pass on retry.
		return fmt.Errorf("run batch: %v: %w", err, asynq.SkipRetry)
	}

	s.logger.Printf("Processed job_id=%s files=%d failures=%d", payload.JobID, outcome.Len(), outcome.Failures())
	if s.jobStore != nil {
		if err := s.jobStore.SetOutcome(ctx, payload.JobID, domain.JobStatusSucceeded, outcome); err != nil {
			s.logger.Printf("outcome persist failed job_id=%s err=%v", payload.JobID, err)
		}
	}

	s.metrics.filesProcessedTotal.Add(float64(outcome.Len()))
	s.metrics.fileFailuresTotal.Add(float64(outcome.Failures()))
	s.recordUsage(ctx, payload.JobID, files, outcome, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, "job.succeeded", map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"count":        outcome.Len(),
		"failures":     outcome.Failures(),
		"results":      outcome.Entries,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	finalStatus = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) fetchSources(ctx context.Context, objectKeys []string) ([]batch.File, error) {
	files := make([]batch.File, len(objectKeys))
	for i, key := range objectKeys {
		data, err := s.sources.ReadObject(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", key, err)
		}
		files[i] = batch.File{Name: path.Base(key), Data: data}
	}
	return files, nil
}

func (s *Server) failJob(ctx context.Context, span trace.Span, payload queue.TransformBatchPayload, cause error) {
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
	span.RecordError(cause)
	span.SetStatus(codes.Error, "batch failed")
	_ = s.dispatchWebhook(ctx, payload, "job.failed", map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        cause.Error(),
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.TransformBatchPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

// recordUsage aggregates the successful entries of the outcome into one usage
// row per job.
func (s *Server) recordUsage(ctx context.Context, jobID string, files []batch.File, outcome domain.BatchOutcome, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	var (
		filesProcessed  int64
		pixelsProcessed int64
		bytesSaved      int64
	)
	for _, entry := range outcome.Entries {
		if entry.Result == nil {
			continue
		}
		filesProcessed++
		pixelsProcessed += int64(entry.Result.NewWidth) * int64(entry.Result.NewHeight)
		if saved := entry.Result.OriginalSize - entry.Result.OptimizedSize; saved > 0 {
			bytesSaved += int64(saved)
		}
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		FilesProcessed:  filesProcessed,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
