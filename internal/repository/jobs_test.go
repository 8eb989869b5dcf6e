package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/section-writer-back/internal/domain"
)

func newTestJob(id string) domain.Job {
	return domain.NewJob(id, domain.JobKindGenerate, domain.JobRequest{
		ReportType:    "Technical_scope",
		CustomerID:    "C1",
		OpportunityID: "O1",
		SectionTitle:  "Technology Stack",
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestMemoryJobStoreGetMissingReturnsNotFound(t *testing.T) {
	store := NewMemoryJobStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Update(context.Background(), "missing", func(*domain.Job) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryJobStoreReturnsCopies(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	job, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	job.Status = domain.JobStatusFailed

	again, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, again.Status)
}

func TestMemoryJobStoreUpdateDiscardsFailedMutation(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	boom := errors.New("boom")
	_, err := store.Update(ctx, "job-1", func(job *domain.Job) error {
		job.Status = domain.JobStatusProcessing
		return boom
	})
	require.ErrorIs(t, err, boom)

	job, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

func TestMemoryJobStoreUpdatesDoNotInterleave(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	job := newTestJob("job-1")
	require.NoError(t, store.Put(ctx, job))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Update(ctx, "job-1", func(job *domain.Job) error {
				job.Request.Instruction += "x"
				return nil
			})
		}()
	}
	wg.Wait()

	stored, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, stored.Request.Instruction, 50)
}

func TestMemoryJobStoreExpire(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	require.NoError(t, store.Expire(ctx, "job-1"))
	_, err := store.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}
