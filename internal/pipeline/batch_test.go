package pipeline

import (
	"context"
	"testing"

	"github.com/dvloznov/statement-reconciler/internal/gcs"
	"github.com/dvloznov/statement-reconciler/internal/jobs"
	jobstore "github.com/dvloznov/statement-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/statement-reconciler/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchRunner_Handle(t *testing.T) {
	h := newHarness(t, alwaysSucceed, Config{})
	store := jobstore.NewStore()

	files := []string{"KCB_1234567890_Q1.pdf", "scan0001.pdf"}
	job := &jobs.BatchJob{JobID: "job-1", CompanyID: "acme", Assignee: "alice"}
	for i, name := range files {
		path := gcs.IncomingPath(job.JobID, i, name)
		_, err := h.storage.Put(h.ctx, path, []byte("%PDF-1.7"), "application/pdf")
		require.NoError(t, err)
		job.Items = append(job.Items, jobs.BatchItem{FileName: name, Path: path, Size: 8})
	}
	job.Items = append(job.Items, jobs.BatchItem{FileName: "gone.pdf", Path: gcs.IncomingPath(job.JobID, 2, "gone.pdf")})
	require.NoError(t, store.SaveJob(h.ctx, job))

	runner := NewBatchRunner(h.pipeline, store)
	require.NoError(t, runner.Handle(h.ctx, job))

	saved, err := store.GetJob(h.ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, saved.Summary)
	assert.Equal(t, 1, saved.Summary.Succeeded)
	assert.Equal(t, 1, saved.Summary.Unmatched)
	assert.Equal(t, 1, saved.Summary.Failed)
	require.Len(t, saved.Summary.Failures, 1)
	assert.Equal(t, "gone.pdf", saved.Summary.Failures[0].FileName)
	assert.Equal(t, jobs.Progress{Processed: 2, Total: 2}, saved.Progress)

	recs, err := h.store.List(h.ctx, records.Filter{BankID: "kcb-main"})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, "alice", rec.Workflow.Assignee)
	}
}

func TestBatchRunner_PassesHints(t *testing.T) {
	var seen []Document
	h := newHarness(t, nil, Config{})
	h.extractor.ExtractFunc = func(ctx context.Context, doc Document, schema Schema) Result {
		seen = append(seen, doc)
		return quarterResult()
	}
	store := jobstore.NewStore()

	path := gcs.IncomingPath("job-2", 0, "scan0001.pdf")
	_, err := h.storage.Put(h.ctx, path, []byte("%PDF"), "application/pdf")
	require.NoError(t, err)

	job := &jobs.BatchJob{
		JobID: "job-2",
		Items: []jobs.BatchItem{{FileName: "scan0001.pdf", Path: path, BankID: "kcb-main"}},
	}
	require.NoError(t, store.SaveJob(h.ctx, job))
	require.NoError(t, NewBatchRunner(h.pipeline, store).Handle(h.ctx, job))

	saved, err := store.GetJob(h.ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Summary.Succeeded)
	assert.Len(t, seen, 1)
}
