package jobs

import (
	"context"

	"github.com/dvloznov/statement-reconciler/internal/logger"
)

// Tracker reports batch progress for one job and exposes its stop flag.
type Tracker struct {
	store JobStore
	jobID string
}

// NewTracker creates a Tracker for jobID.
func NewTracker(store JobStore, jobID string) *Tracker {
	return &Tracker{store: store, jobID: jobID}
}

// Progress records processed/total and the item being worked on.
// Store errors are logged; progress is best effort.
func (t *Tracker) Progress(ctx context.Context, processed, total int, currentItem string) {
	p := Progress{Processed: processed, Total: total}
	if err := t.store.UpdateProgress(ctx, t.jobID, p, currentItem); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", t.jobID).Msg("Failed to record job progress")
	}
}

// Stopped reports whether a stop was requested for the job.
func (t *Tracker) Stopped(ctx context.Context) bool {
	job, err := t.store.GetJob(ctx, t.jobID)
	if err != nil {
		return false
	}
	return job.StopRequested
}

// Finish attaches the batch summary.
func (t *Tracker) Finish(ctx context.Context, summary Summary) error {
	return t.store.SetSummary(ctx, t.jobID, summary)
}
