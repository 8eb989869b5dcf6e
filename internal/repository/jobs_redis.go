package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/section-writer-back/internal/domain"
)

const (
	jobKeyPrefix       = "job:"
	DefaultJobTTL      = 24 * time.Hour
	maxOptimisticRetry = 8
)

// RedisJobStore persists jobs as JSON with a fixed TTL counted from creation.
// Updates keep the remaining TTL.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisJobStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisJobStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisJobStoreWithClient(client, ttl), nil
}

func NewRedisJobStoreWithClient(client *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &RedisJobStore{client: client, ttl: ttl}
}

func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisJobStore) Put(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (domain.Job, error) {
	payload, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Job{}, ErrNotFound
		}
		return domain.Job{}, fmt.Errorf("load job: %w", err)
	}
	return decodeJob(payload)
}

// Update runs the mutator inside WATCH/MULTI and retries when another writer
// touched the key in between.
func (s *RedisJobStore) Update(ctx context.Context, jobID string, mutate JobMutator) (domain.Job, error) {
	key := jobKey(jobID)
	var updated domain.Job

	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("load job: %w", err)
		}
		job, err := decodeJob(payload)
		if err != nil {
			return err
		}
		if err := mutate(&job); err != nil {
			return err
		}
		encoded, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, encoded, redis.SetArgs{KeepTTL: true, Mode: "XX"})
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for attempt := 0; attempt < maxOptimisticRetry; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) {
			// SET XX found no key: it expired between GET and EXEC.
			return domain.Job{}, ErrNotFound
		}
		return domain.Job{}, err
	}
	return domain.Job{}, fmt.Errorf("update job %s: too many concurrent writers", jobID)
}

func (s *RedisJobStore) Expire(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

func decodeJob(payload []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
