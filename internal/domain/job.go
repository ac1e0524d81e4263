package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// CreateJobRequest is the deferred-batch submission body. Sources are object
// keys the client uploads to beforehand via the presigned URLs the create
// response hands back.
type CreateJobRequest struct {
	FileCount  int     `json:"file_count"`
	WebhookURL string  `json:"webhook_url,omitempty"`
	Options    Options `json:"options"`
}

func (r CreateJobRequest) Validate() error {
	if r.FileCount < 1 {
		return errors.New("file_count must be at least 1")
	}
	if r.FileCount > 100 {
		return fmt.Errorf("file_count must be at most 100, got %d", r.FileCount)
	}
	if r.WebhookURL != "" && !strings.HasPrefix(r.WebhookURL, "http") {
		return errors.New("webhook_url must be an http(s) URL")
	}
	return r.Options.Validate()
}

// Job is a persisted deferred batch.
type Job struct {
	ID         string
	UserID     string
	Status     string
	WebhookURL string
	ObjectKeys []string
	Options    Options
	Outcome    *BatchOutcome
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
