package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.BatchJob {
	t.Helper()
	var job *jobs.BatchJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store)

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		b := job.(*jobs.BatchJob)
		tr := jobs.NewTracker(store, b.JobID)
		for i, item := range b.Items {
			tr.Progress(ctx, i+1, len(b.Items), item.FileName)
		}
		return tr.Finish(ctx, jobs.Summary{Succeeded: len(b.Items)})
	}))

	job := &jobs.BatchJob{Items: []jobs.BatchItem{{FileName: "a.pdf"}, {FileName: "b.pdf"}}}
	require.NoError(t, q.PublishBatch(ctx, job))
	require.NotEmpty(t, job.JobID)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, jobs.Progress{Processed: 2, Total: 2}, done.Progress)
	assert.Empty(t, done.CurrentItem)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 2, done.Summary.Succeeded)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_RunsOneJobAtATime(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store)

	var running, peak int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		job := &jobs.BatchJob{}
		require.NoError(t, q.PublishBatch(ctx, job))
		ids = append(ids, job.JobID)
	}
	for _, id := range ids {
		waitForStatus(t, store, id, jobs.JobStatusCompleted)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestQueue_RetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))

	var calls int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("storage unavailable")
	}))

	job := &jobs.BatchJob{MaxRetries: 2}
	require.NoError(t, q.PublishBatch(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, "storage unavailable", failed.Error)
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueue_StopRequested(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store)

	started := make(chan string)
	release := make(chan struct{})
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		started <- job.GetID()
		<-release
		if jobs.NewTracker(store, job.GetID()).Stopped(ctx) {
			return nil
		}
		return errors.New("should have seen the stop flag")
	}))

	job := &jobs.BatchJob{Items: []jobs.BatchItem{{FileName: "a.pdf"}}}
	require.NoError(t, q.PublishBatch(ctx, job))

	id := <-started
	require.NoError(t, store.RequestStop(ctx, id))
	close(release)

	stopped := waitForStatus(t, store, id, jobs.JobStatusStopped)
	assert.True(t, stopped.StopRequested)
	assert.Empty(t, stopped.Error)
}

func TestQueue_PublishAfterClose(t *testing.T) {
	q := NewQueue(1, NewStore())
	require.NoError(t, q.Close())

	err := q.PublishBatch(context.Background(), &jobs.BatchJob{})
	assert.Error(t, err)
}
