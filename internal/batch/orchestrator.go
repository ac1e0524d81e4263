package batch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dunamismax/imagepress/internal/domain"
	"github.com/dunamismax/imagepress/internal/pipeline"
)

// File is one input of a batch: raw bytes plus the client's filename.
type File struct {
	Name string
	Data []byte
}

// TotalBytes sums the payload sizes of a batch.
func TotalBytes(files []File) int64 {
	var total int64
	for _, f := range files {
		total += int64(len(f.Data))
	}
	return total
}

// BlobPutter persists one artifact under a collision-free reference.
type BlobPutter interface {
	Put(ctx context.Context, suggestedName string, data []byte, contentType string) (string, error)
}

// Limits are the batch-wide resource caps checked before any per-file work.
type Limits struct {
	MaxBytes int64
	MaxFiles int
}

// Orchestrator fans a batch out to per-file pipelines, isolates failures,
// and collects results in input order.
type Orchestrator struct {
	codec   pipeline.Codec
	store   BlobPutter
	logger  *log.Logger
	limits  Limits
	workers int
}

func New(codec pipeline.Codec, store BlobPutter, logger *log.Logger, limits Limits, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		codec:   codec,
		store:   store,
		logger:  logger,
		limits:  limits,
		workers: workers,
	}
}

// Run validates the batch, then processes every file concurrently up to the
// worker bound. The outcome has exactly one entry per input file, in input
// order; per-file failures occupy their slot as error records. Only
// batch-level validation produces a non-nil error, and then nothing has been
// processed or stored.
func (o *Orchestrator) Run(ctx context.Context, files []File, opts domain.Options) (domain.BatchOutcome, error) {
	if err := opts.Validate(); err != nil {
		return domain.BatchOutcome{}, &domain.BatchError{Reason: err}
	}
	if len(files) == 0 {
		return domain.BatchOutcome{}, &domain.BatchError{Reason: domain.ErrEmptyBatch}
	}
	if o.limits.MaxFiles > 0 && len(files) > o.limits.MaxFiles {
		return domain.BatchOutcome{}, &domain.BatchError{
			Reason: fmt.Errorf("%d files exceeds limit of %d", len(files), o.limits.MaxFiles),
		}
	}
	if o.limits.MaxBytes > 0 {
		if total := TotalBytes(files); total > o.limits.MaxBytes {
			return domain.BatchOutcome{}, &domain.BatchError{
				Reason: fmt.Errorf("%w: %d bytes exceeds cap of %d", domain.ErrBatchTooLarge, total, o.limits.MaxBytes),
			}
		}
	}

	// Result slots are pre-allocated by index so output order matches input
	// order regardless of completion order.
	entries := make([]domain.Entry, len(files))
	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup

	for i, file := range files {
		wg.Add(1)
		go func(idx int, f File) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := o.processFile(ctx, f, opts)
			if err != nil {
				o.logger.Printf("file failed index=%d name=%s err=%v", idx, f.Name, err)
				entries[idx] = domain.Entry{Err: domain.ClassifyItemError(idx, err)}
				return
			}
			entries[idx] = domain.Entry{Result: result}
		}(i, file)
	}
	wg.Wait()

	return domain.BatchOutcome{Entries: entries}, nil
}

// processFile runs one file end to end: probe, resolve, plan, encode, store.
// Every failure is local to this file.
func (o *Orchestrator) processFile(ctx context.Context, f File, opts domain.Options) (*domain.TransformResult, error) {
	format, orig, err := o.codec.Probe(f.Data)
	if err != nil {
		return nil, err
	}

	var dims *domain.Dimensions
	if opts.WantsResample() {
		resolved, err := pipeline.Resolve(orig.Width, orig.Height, opts)
		if err != nil {
			return nil, err
		}
		dims = &resolved
	}

	plans := pipeline.BuildPlans(format, opts)
	chosen, err := o.encodeCandidates(ctx, f.Name, f.Data, dims, plans)
	if err != nil {
		return nil, err
	}

	ref, err := o.store.Put(ctx, outputName(f.Name, chosen.Format), chosen.Data, chosen.Format.ContentType())
	if err != nil {
		return nil, domain.StorageError(err)
	}

	operation := domain.OperationOptimized
	if opts.Mode == domain.ModeResize {
		operation = domain.OperationResized
	}

	result := &domain.TransformResult{
		Filename:       filepath.Base(f.Name),
		Operation:      operation,
		OriginalSize:   len(f.Data),
		OptimizedSize:  len(chosen.Data),
		OriginalWidth:  orig.Width,
		OriginalHeight: orig.Height,
		NewWidth:       chosen.Width,
		NewHeight:      chosen.Height,
		OutputFormat:   chosen.Format,
		OutputRef:      ref,
	}

	// Inline previews only on the resize path; optimize responses stay
	// small and the artifact is fetched by reference instead.
	if opts.Mode == domain.ModeResize {
		result.Preview = previewDataURL(chosen)
	}

	return result, nil
}

// encodeCandidates runs the native plan and, when present, the alternate
// candidate, then applies the size-comparison rule. A failed candidate never
// fails the file; the native result stands.
func (o *Orchestrator) encodeCandidates(ctx context.Context, name string, src []byte, dims *domain.Dimensions, plans []domain.EncodePlan) (domain.Artifact, error) {
	native, err := o.codec.Apply(ctx, src, dims, plans[0])
	if err != nil {
		return domain.Artifact{}, err
	}
	if len(plans) < 2 {
		return native, nil
	}

	candidate, err := o.codec.Apply(ctx, src, dims, plans[1])
	if err != nil {
		o.logger.Printf("alternate encode failed name=%s format=%s err=%v", name, plans[1].Format, err)
		return native, nil
	}
	return pipeline.PickCandidate(native, candidate), nil
}

func outputName(original string, format domain.Format) string {
	base := filepath.Base(original)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "image"
	}
	return stem + "." + format.Extension()
}

func previewDataURL(a domain.Artifact) string {
	return "data:" + a.Format.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
