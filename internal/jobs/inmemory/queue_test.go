package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.PopulateBatchJob {
	t.Helper()
	var job *jobs.PopulateBatchJob
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

func TestQueue_PublishAndProcess(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int64
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		p, ok := job.(*jobs.PopulateBatchJob)
		if !ok {
			return jobs.Permanent(errors.New("unexpected job type"))
		}
		handled.Add(p.BatchID)
		return nil
	}))

	job := &jobs.PopulateBatchJob{BatchID: 7, SourceType: "ofx", RelativePath: "20240115-abcd1234/a.ofx"}
	require.NoError(t, q.PublishPopulateBatch(ctx, job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)
	assert.Equal(t, int64(7), handled.Load())

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_RetriesWithBackoff(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithRetryBackoff(time.Millisecond), WithMaxRetries(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("database is locked")
		}
		return nil
	}))

	job := &jobs.PopulateBatchJob{BatchID: 1}
	require.NoError(t, q.PublishPopulateBatch(ctx, job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, int32(3), attempts.Load())

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_ExhaustedRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithRetryBackoff(time.Millisecond), WithMaxRetries(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return errors.New("still broken")
	}))

	job := &jobs.PopulateBatchJob{BatchID: 1}
	require.NoError(t, q.PublishPopulateBatch(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "still broken", failed.Error)
	assert.Equal(t, int32(2), attempts.Load())

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithRetryBackoff(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return jobs.Permanent(errors.New("parse failed"))
	}))

	job := &jobs.PopulateBatchJob{BatchID: 1}
	require.NoError(t, q.PublishPopulateBatch(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Zero(t, failed.RetryCount)
	assert.Equal(t, "parse failed", failed.Error)
	assert.Equal(t, int32(1), attempts.Load())

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, nil)
	require.NoError(t, q.Close())
	require.NoError(t, q.Stop(context.Background()), "stopping twice is fine")

	err := q.PublishPopulateBatch(context.Background(), &jobs.PopulateBatchJob{BatchID: 1})
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)

	err = q.Start(context.Background(), func(context.Context, jobs.Job) error { return nil })
	assert.ErrorIs(t, err, jobs.ErrQueueClosed)
}

func TestQueue_PublishHonoursContext(t *testing.T) {
	q := NewQueue(0, nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.PublishPopulateBatch(ctx, &jobs.PopulateBatchJob{BatchID: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, jobs.Permanent(nil))

	base := errors.New("boom")
	err := jobs.Permanent(base)
	assert.True(t, jobs.IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.True(t, jobs.IsPermanent(errors.Join(errors.New("wrapped"), err)))
	assert.False(t, jobs.IsPermanent(base))
}
