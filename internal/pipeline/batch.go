package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/statement-reconciler/internal/domain"
	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/dvloznov/statement-reconciler/internal/logger"
)

// BatchRunner turns queued batch jobs into pipeline runs.
type BatchRunner struct {
	pipeline *Pipeline
	store    jobs.JobStore
}

// NewBatchRunner creates a BatchRunner.
func NewBatchRunner(p *Pipeline, store jobs.JobStore) *BatchRunner {
	return &BatchRunner{pipeline: p, store: store}
}

// Handle implements jobs.JobHandler. Items are loaded from storage, extracted
// one at a time and every matched item is uploaded. Unmatched and failed
// items stay in the summary for manual follow-up.
func (r *BatchRunner) Handle(ctx context.Context, job jobs.Job) error {
	batch, ok := job.(*jobs.BatchJob)
	if !ok {
		return fmt.Errorf("BatchRunner: unexpected job type %s", job.GetType())
	}
	log := logger.FromContext(ctx).With().Str("job_id", batch.JobID).Logger()
	ctx = logger.WithContext(ctx, log)

	items, loadFailures := r.loadItems(ctx, batch)
	tracker := jobs.NewTracker(r.store, batch.JobID)

	summary, err := r.pipeline.Run(ctx, tracker, items)
	summary.Failed += len(loadFailures)
	summary.Failures = append(loadFailures, summary.Failures...)
	if err != nil {
		_ = tracker.Finish(ctx, summary)
		return fmt.Errorf("BatchRunner: %w", err)
	}

	for _, item := range items {
		if item.Status != StatusMatched {
			continue
		}
		if _, err := r.pipeline.Upload(ctx, item, batch.Assignee); err != nil {
			log.Error().Err(err).Int("item", item.Index).Str("file_name", item.FileName).Msg("Upload failed")
			summary.Succeeded--
			summary.Failed++
			summary.Failures = append(summary.Failures, jobs.ItemFailure{
				Index:    item.Index,
				FileName: item.FileName,
				Message:  err.Error(),
			})
		}
	}

	if err := tracker.Finish(ctx, summary); err != nil {
		return fmt.Errorf("BatchRunner: saving summary: %w", err)
	}
	return nil
}

// loadItems reads each item's bytes. Items that cannot be read are reported
// as failures and left out of the run.
func (r *BatchRunner) loadItems(ctx context.Context, batch *jobs.BatchJob) ([]*UploadItem, []jobs.ItemFailure) {
	var (
		items    []*UploadItem
		failures []jobs.ItemFailure
	)
	for i, bi := range batch.Items {
		data, err := r.pipeline.deps.Storage.Get(ctx, bi.Path)
		if err == nil && len(data) == 0 {
			err = domain.ErrMissingSource
		}
		if err != nil {
			if !errors.Is(err, domain.ErrMissingSource) {
				err = fmt.Errorf("%w: %w", domain.ErrMissingSource, err)
			}
			failures = append(failures, jobs.ItemFailure{Index: i, FileName: bi.FileName, Message: err.Error()})
			continue
		}

		item := NewUploadItem(i, bi.FileName, data)
		item.BankID = bi.BankID
		item.Kind = bi.Kind
		item.Password = bi.Password
		items = append(items, item)
	}
	return items, failures
}

var _ jobs.JobHandler = (*BatchRunner)(nil).Handle
