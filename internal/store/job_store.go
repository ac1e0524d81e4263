package store

import (
	"context"

	"github.com/dunamismax/imagepress/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// SetOutcome records the final status together with the ordered per-file
	// outcome of the batch.
	SetOutcome(ctx context.Context, id, status string, outcome domain.BatchOutcome) error
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
