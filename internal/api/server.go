package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/imagepress/internal/batch"
	"github.com/dunamismax/imagepress/internal/domain"
	"github.com/dunamismax/imagepress/internal/id"
	"github.com/dunamismax/imagepress/internal/queue"
	"github.com/dunamismax/imagepress/internal/store"
)

// fileFieldNames are the multipart field names accepted for image parts, in
// lookup order.
var fileFieldNames = []string{"files[]", "file[]", "files", "file", "image"}

type batchRunner interface {
	Run(ctx context.Context, files []batch.File, opts domain.Options) (domain.BatchOutcome, error)
}

type queueEnqueuer interface {
	EnqueueTransformBatch(ctx context.Context, payload queue.TransformBatchPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Config bundles the server's collaborators. Queue, job store and object
// storage are optional; without them the deferred-job routes answer 503.
type Config struct {
	Logger        *log.Logger
	Runner        batchRunner
	Outputs       store.BlobStore
	Queue         queueEnqueuer
	Jobs          store.JobStore
	Storage       objectStorage
	RateLimiter   RateLimiter
	Tracer        trace.Tracer
	PresignTTL    time.Duration
	MaxBatchBytes int64
	// DefaultQuality, when positive, fills in quality for requests that
	// omit it, overriding the per-format encoder defaults.
	DefaultQuality int
}

type Server struct {
	logger         *log.Logger
	runner         batchRunner
	outputs        store.BlobStore
	queueClient    queueEnqueuer
	jobStore       store.JobStore
	storage        objectStorage
	rateLimiter    RateLimiter
	tracer         trace.Tracer
	metrics        *metrics
	presignTTL     time.Duration
	maxBatchBytes  int64
	defaultQuality int
	mux            *http.ServeMux
}

func NewServer(cfg Config) *Server {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = 25 * 1024 * 1024
	}
	if cfg.Storage == nil {
		cfg.Storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:         cfg.Logger,
		runner:         cfg.Runner,
		outputs:        cfg.Outputs,
		queueClient:    cfg.Queue,
		jobStore:       cfg.Jobs,
		storage:        cfg.Storage,
		rateLimiter:    cfg.RateLimiter,
		tracer:         cfg.Tracer,
		metrics:        newMetrics(),
		presignTTL:     cfg.PresignTTL,
		maxBatchBytes:  cfg.MaxBatchBytes,
		defaultQuality: cfg.DefaultQuality,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

// Handler returns the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withTracing(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/batches", s.handleTransformBatch)
	s.mux.HandleFunc("GET /v1/outputs/{ref}", s.handleGetOutput)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTransformBatch is the synchronous path: multipart in, ordered outcome
// out. Batch-level validation failures reject the whole request; per-file
// failures ride along inside the outcome with status 200.
func (s *Server) handleTransformBatch(w http.ResponseWriter, r *http.Request) {
	// Leave headroom above the payload cap for multipart framing; the exact
	// byte total is enforced again by the orchestrator.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBatchBytes+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeBatchRejection(w, http.StatusRequestEntityTooLarge, domain.ErrBatchTooLarge.Error())
			return
		}
		writeBatchRejection(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	files, err := collectFiles(r.MultipartForm)
	if err != nil {
		writeBatchRejection(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := s.applyDefaults(optionsFromForm(r))
	outcome, err := s.runner.Run(r.Context(), files, opts)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrBatchTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeBatchRejection(w, status, err.Error())
		return
	}

	s.metrics.batchesTotal.WithLabelValues(opts.Mode).Inc()
	s.metrics.batchFiles.Add(float64(outcome.Len()))
	s.metrics.batchFileFailures.Add(float64(outcome.Failures()))

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    outcome.Len(),
		"failures": outcome.Failures(),
		"results":  outcome.Entries,
	})
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	data, contentType, err := s.outputs.Get(r.Context(), ref)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "output not found or expired"})
			return
		}
		s.logger.Printf("fetch output failed ref=%s err=%v", ref, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load output"})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "deferred jobs are not enabled"})
		return
	}

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	req.Options = s.applyDefaults(req.Options)

	now := time.Now().UTC()
	jobID := id.New()

	objectKeys := make([]string, req.FileCount)
	uploads := make([]map[string]string, req.FileCount)
	for i := range objectKeys {
		key := fmt.Sprintf("uploads/%s/%d", jobID, i)
		url, err := s.storage.PresignedPutURL(r.Context(), key, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed job=%s key=%s err=%v", jobID, key, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URLs"})
			return
		}
		objectKeys[i] = key
		uploads[i] = map[string]string{
			"object_key":        key,
			"presigned_put_url": url,
		}
	}

	job := domain.Job{
		ID:         jobID,
		Status:     domain.JobStatusCreated,
		WebhookURL: req.WebhookURL,
		ObjectKeys: objectKeys,
		Options:    req.Options,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"status":    job.Status,
		"uploads":   uploads,
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil || s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "deferred jobs are not enabled"})
		return
	}

	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	for _, key := range job.ObjectKeys {
		exists, err := s.storage.ObjectExists(r.Context(), key)
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "source object check failed: " + err.Error()})
			return
		}
		if !exists {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "source object is missing: " + key})
			return
		}
	}

	payload := queue.TransformBatchPayload{
		JobID:       job.ID,
		ObjectKeys:  job.ObjectKeys,
		Options:     job.Options,
		WebhookURL:  job.WebhookURL,
		RequestedAt: time.Now().UTC(),
	}
	taskInfo, err := s.queueClient.EnqueueTransformBatch(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed job=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"status":  domain.JobStatusQueued,
		"queue":   taskInfo.Queue,
		"task_id": taskInfo.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "deferred jobs are not enabled"})
		return
	}

	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	body := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Outcome != nil {
		body["count"] = job.Outcome.Len()
		body["failures"] = job.Outcome.Failures()
		body["results"] = job.Outcome.Entries
	}
	writeJSON(w, http.StatusOK, body)
}

// collectFiles pulls image parts out of the parsed form, preserving the
// client's part order within each accepted field name.
func collectFiles(form *multipart.Form) ([]batch.File, error) {
	var files []batch.File
	for _, field := range fileFieldNames {
		for _, header := range form.File[field] {
			f, err := header.Open()
			if err != nil {
				return nil, fmt.Errorf("open uploaded file %q: %w", header.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read uploaded file %q: %w", header.Filename, err)
			}
			files = append(files, batch.File{Name: header.Filename, Data: data})
		}
	}
	return files, nil
}

// optionsFromForm maps multipart form values onto the shared option set.
// Unknown values fall back to zero; option validation happens in the
// orchestrator.
func optionsFromForm(r *http.Request) domain.Options {
	mode := strings.ToLower(strings.TrimSpace(r.FormValue("mode")))
	if mode == "" {
		if formBool(r, "optimize") {
			mode = domain.ModeOptimize
		} else {
			mode = domain.ModeResize
		}
	}

	return domain.Options{
		Mode:         mode,
		Width:        formInt(r, "width"),
		Height:       formInt(r, "height"),
		LockAspect:   formBool(r, "lock_aspect"),
		Quality:      formInt(r, "quality"),
		KeepMetadata: formBool(r, "keep_metadata"),
		AutoWebP:     formBool(r, "autowebp"),
		ConvertTo:    domain.NormalizeFormat(r.FormValue("convert_to")),
	}
}

// applyDefaults fills in the operator-configured quality baseline when the
// request left quality unset.
func (s *Server) applyDefaults(opts domain.Options) domain.Options {
	if opts.Quality == 0 && s.defaultQuality > 0 {
		opts.Quality = s.defaultQuality
	}
	return opts
}

func formInt(r *http.Request, field string) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.FormValue(field)))
	if err != nil {
		return 0
	}
	return v
}

func formBool(r *http.Request, field string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.FormValue(field)))
	if err != nil {
		return false
	}
	return v
}

func writeBatchRejection(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error_kind": "batch_validation",
		"error":      message,
	})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
