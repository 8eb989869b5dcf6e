package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/section-writer-back/internal/domain"
)

func newRedisStore(t *testing.T) (*RedisJobStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisJobStoreWithClient(client, 0), server
}

func TestRedisJobStorePutSetsTTL(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	assert.True(t, server.Exists("job:job-1"))
	assert.Equal(t, 24*time.Hour, server.TTL("job:job-1"))

	job, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "Technology Stack", job.Request.SectionTitle)
}

func TestRedisJobStoreUpdateKeepsTTL(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	server.FastForward(time.Hour)

	updated, err := store.Update(ctx, "job-1", func(job *domain.Job) error {
		return job.Start(time.Now().UTC())
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, updated.Status)
	assert.Equal(t, 23*time.Hour, server.TTL("job:job-1"))

	stored, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
}

func TestRedisJobStoreExpiredJobIsNotFound(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	server.FastForward(25 * time.Hour)

	_, err := store.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Update(ctx, "job-1", func(*domain.Job) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisJobStoreRejectedMutationLeavesRecord(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	_, err := store.Update(ctx, "job-1", func(job *domain.Job) error {
		return job.Complete(domain.JobResult{}, time.Now())
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
}

func TestRedisJobStoreExpire(t *testing.T) {
	store, server := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newTestJob("job-1")))

	require.NoError(t, store.Expire(ctx, "job-1"))
	assert.False(t, server.Exists("job:job-1"))
}

func TestRedisJobStorePing(t *testing.T) {
	store, server := newRedisStore(t)
	require.NoError(t, store.Ping(context.Background()))

	server.Close()
	assert.Error(t, store.Ping(context.Background()))
}
