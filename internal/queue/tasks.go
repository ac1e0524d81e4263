package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/imagepress/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeTransformBatch = "batch:transform"

// TransformBatchPayload carries one deferred batch through the queue. Object
// keys point at sources already uploaded to the bucket.
type TransformBatchPayload struct {
	JobID       string         `json:"job_id"`
	ObjectKeys  []string       `json:"object_keys"`
	Options     domain.Options `json:"options"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

func NewTransformBatchTask(payload TransformBatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformBatch, body), nil
}

func ParseTransformBatchPayload(task *asynq.Task) (TransformBatchPayload, error) {
	var payload TransformBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformBatchPayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	return payload, nil
}
