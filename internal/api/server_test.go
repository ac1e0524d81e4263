package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/imagepress/internal/batch"
	"github.com/dunamismax/imagepress/internal/domain"
	"github.com/dunamismax/imagepress/internal/queue"
	"github.com/dunamismax/imagepress/internal/store"
)

type stubRunner struct {
	gotFiles []batch.File
	gotOpts  domain.Options
	outcome  domain.BatchOutcome
	err      error
}

func (r *stubRunner) Run(_ context.Context, files []batch.File, opts domain.Options) (domain.BatchOutcome, error) {
	r.gotFiles = files
	r.gotOpts = opts
	if r.err != nil {
		return domain.BatchOutcome{}, r.err
	}
	return r.outcome, nil
}

type stubOutputs struct {
	data        []byte
	contentType string
	err         error
}

func (s *stubOutputs) Put(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	return "", nil
}

func (s *stubOutputs) Get(_ context.Context, _ string) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.data, s.contentType, nil
}

type stubQueue struct {
	payloads []queue.TransformBatchPayload
}

func (q *stubQueue) EnqueueTransformBatch(_ context.Context, payload queue.TransformBatchPayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: "default"}, nil
}

type stubStorage struct {
	existing map[string]bool
}

func (s *stubStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://uploads.example.com/" + objectKey, nil
}

func (s *stubStorage) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	return s.existing[objectKey], nil
}

func newTestServer(runner batchRunner, outputs store.BlobStore, q queueEnqueuer, jobs store.JobStore, storage objectStorage) *Server {
	return NewServer(Config{
		Logger:  log.New(&bytes.Buffer{}, "[api] ", log.LstdFlags),
		Runner:  runner,
		Outputs: outputs,
		Queue:   q,
		Jobs:    jobs,
		Storage: storage,
	})
}

func multipartBatch(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	for name, data := range files {
		part, err := writer.CreateFormFile("files[]", name)
		if err != nil {
			t.Fatalf("create file part %s: %v", name, err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file part %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubRunner{}, &stubOutputs{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTransformBatchReturnsOutcome(t *testing.T) {
	runner := &stubRunner{
		outcome: domain.BatchOutcome{Entries: []domain.Entry{
			{Result: &domain.TransformResult{Filename: "a.jpg", Operation: domain.OperationResized}},
			{Err: &domain.ItemError{Index: 1, Kind: domain.KindDecode, Message: "decode image: bad data"}},
		}},
	}
	srv := newTestServer(runner, &stubOutputs{}, nil, nil, nil)

	body, contentType := multipartBatch(t,
		map[string]string{
			"width":       "320",
			"lock_aspect": "true",
			"quality":     "70",
			"autowebp":    "true",
		},
		map[string][]byte{
			"a.jpg": []byte("jpeg bytes"),
			"b.png": []byte("png bytes"),
		},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	if len(runner.gotFiles) != 2 {
		t.Fatalf("runner received %d files, want 2", len(runner.gotFiles))
	}
	if runner.gotOpts.Mode != domain.ModeResize {
		t.Fatalf("mode = %q, want resize", runner.gotOpts.Mode)
	}
	if runner.gotOpts.Width != 320 || !runner.gotOpts.LockAspect || runner.gotOpts.Quality != 70 || !runner.gotOpts.AutoWebP {
		t.Fatalf("options = %+v", runner.gotOpts)
	}

	var resp struct {
		Count    int            `json:"count"`
		Failures int            `json:"failures"`
		Results  []domain.Entry `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || resp.Failures != 1 || len(resp.Results) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Results[1].Err == nil || resp.Results[1].Err.Kind != domain.KindDecode {
		t.Fatalf("second entry = %+v, want decode error", resp.Results[1])
	}
}

func TestTransformBatchOptimizeFlag(t *testing.T) {
	runner := &stubRunner{outcome: domain.BatchOutcome{Entries: []domain.Entry{
		{Result: &domain.TransformResult{Filename: "a.jpg"}},
	}}}
	srv := newTestServer(runner, &stubOutputs{}, nil, nil, nil)

	body, contentType := multipartBatch(t,
		map[string]string{"optimize": "true", "keep_metadata": "true"},
		map[string][]byte{"a.jpg": []byte("jpeg bytes")},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if runner.gotOpts.Mode != domain.ModeOptimize || !runner.gotOpts.KeepMetadata {
		t.Fatalf("options = %+v", runner.gotOpts)
	}
}

func TestTransformBatchDefaultQuality(t *testing.T) {
	runner := &stubRunner{outcome: domain.BatchOutcome{Entries: []domain.Entry{
		{Result: &domain.TransformResult{Filename: "a.jpg"}},
	}}}
	srv := NewServer(Config{
		Logger:         log.New(&bytes.Buffer{}, "[api] ", log.LstdFlags),
		Runner:         runner,
		Outputs:        &stubOutputs{},
		DefaultQuality: 65,
	})

	body, contentType := multipartBatch(t,
		map[string]string{"optimize": "true"},
		map[string][]byte{"a.jpg": []byte("jpeg bytes")},
	)
	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if runner.gotOpts.Quality != 65 {
		t.Fatalf("quality = %d, want configured default 65", runner.gotOpts.Quality)
	}

	// An explicit quality always wins over the configured default.
	body, contentType = multipartBatch(t,
		map[string]string{"optimize": "true", "quality": "90"},
		map[string][]byte{"a.jpg": []byte("jpeg bytes")},
	)
	req = httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if runner.gotOpts.Quality != 90 {
		t.Fatalf("quality = %d, want explicit 90", runner.gotOpts.Quality)
	}
}

func TestTransformBatchRejections(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation failure",
			err:        &domain.BatchError{Reason: domain.ErrEmptyBatch},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "oversized batch",
			err:        &domain.BatchError{Reason: domain.ErrBatchTooLarge},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubRunner{err: tt.err}, &stubOutputs{}, nil, nil, nil)

			body, contentType := multipartBatch(t,
				map[string]string{"optimize": "true"},
				map[string][]byte{"a.jpg": []byte("x")},
			)
			req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["error_kind"] != "batch_validation" {
				t.Fatalf("error_kind = %q, want batch_validation", resp["error_kind"])
			}
		})
	}
}

func TestGetOutput(t *testing.T) {
	outputs := &stubOutputs{data: []byte("artifact bytes"), contentType: "image/webp"}
	srv := newTestServer(&stubRunner{}, outputs, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/outputs/photo-abc123.webp", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/webp" {
		t.Fatalf("content type = %q, want image/webp", got)
	}
	if rec.Body.String() != "artifact bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestGetOutputExpired(t *testing.T) {
	outputs := &stubOutputs{err: domain.ErrArtifactNotFound}
	srv := newTestServer(&stubRunner{}, outputs, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/outputs/gone.jpg", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobLifecycle(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	q := &stubQueue{}
	storage := &stubStorage{existing: map[string]bool{}}
	srv := newTestServer(&stubRunner{}, &stubOutputs{}, q, jobs, storage)

	createBody := `{"file_count":2,"options":{"mode":"resize","width":640,"lock_aspect":true}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(createBody))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	var created struct {
		JobID   string `json:"job_id"`
		Status  string `json:"status"`
		Uploads []struct {
			ObjectKey       string `json:"object_key"`
			PresignedPutURL string `json:"presigned_put_url"`
		} `json:"uploads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Status != domain.JobStatusCreated || len(created.Uploads) != 2 {
		t.Fatalf("create response = %+v", created)
	}

	// Start before uploading: every source must exist first.
	req = httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("start without sources = %d, want 409", rec.Code)
	}

	for _, u := range created.Uploads {
		storage.existing[u.ObjectKey] = true
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	if len(q.payloads) != 1 || q.payloads[0].JobID != created.JobID {
		t.Fatalf("enqueued payloads = %+v", q.payloads)
	}
	if q.payloads[0].Options.Width != 640 {
		t.Fatalf("payload options = %+v", q.payloads[0].Options)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+created.JobID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	var got struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.Status != domain.JobStatusQueued {
		t.Fatalf("job status = %q, want queued", got.Status)
	}
}

func TestGetJobMissing(t *testing.T) {
	srv := newTestServer(&stubRunner{}, &stubOutputs{}, &stubQueue{}, store.NewMemoryJobStore(), &stubStorage{})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateJobRejectsInvalidBody(t *testing.T) {
	srv := newTestServer(&stubRunner{}, &stubOutputs{}, &stubQueue{}, store.NewMemoryJobStore(), &stubStorage{})

	for _, body := range []string{
		`{"file_count":0,"options":{"mode":"optimize"}}`,
		`{"file_count":1,"options":{"mode":"sharpen"}}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}
