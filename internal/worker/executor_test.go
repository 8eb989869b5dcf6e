package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/section-writer-back/internal/cache"
	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/repository"
	"github.com/iago/section-writer-back/internal/service"
	"github.com/iago/section-writer-back/internal/session"
)

type staticTranscripts struct {
	err error
}

func (s staticTranscripts) Fetch(context.Context, domain.SessionKey) ([]domain.Transcript, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Transcript{{Key: "discovery", Text: "The client wants a lakehouse."}}, nil
}

type countingSections struct {
	*repository.MemorySectionsRepository
	reads  atomic.Int32
	writes atomic.Int32
	err    error
}

func (s *countingSections) ListSections(ctx context.Context, key domain.SessionKey) ([]domain.SectionRecord, error) {
	s.reads.Add(1)
	return s.MemorySectionsRepository.ListSections(ctx, key)
}

func (s *countingSections) UpsertSection(ctx context.Context, key domain.SessionKey, title, content, source string) (domain.SectionRecord, error) {
	s.writes.Add(1)
	if s.err != nil {
		return domain.SectionRecord{}, s.err
	}
	return s.MemorySectionsRepository.UpsertSection(ctx, key, title, content, source)
}

type scriptedWriter struct {
	mu       sync.Mutex
	generate func(service.GenerateInput) (service.WriteResult, error)
	refine   func(service.RefineInput) (service.WriteResult, error)
	refines  []service.RefineInput

	active    atomic.Int32
	maxActive atomic.Int32
}

func (w *scriptedWriter) enter() func() {
	current := w.active.Add(1)
	for {
		seen := w.maxActive.Load()
		if current <= seen || w.maxActive.CompareAndSwap(seen, current) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return func() { w.active.Add(-1) }
}

func (w *scriptedWriter) Generate(_ context.Context, input service.GenerateInput) (service.WriteResult, error) {
	defer w.enter()()
	if w.generate != nil {
		return w.generate(input)
	}
	return service.WriteResult{Content: "Generated " + input.SectionTitle}, nil
}

func (w *scriptedWriter) Refine(_ context.Context, input service.RefineInput) (service.WriteResult, error) {
	defer w.enter()()
	w.mu.Lock()
	w.refines = append(w.refines, input)
	w.mu.Unlock()
	if w.refine != nil {
		return w.refine(input)
	}
	return service.WriteResult{Content: "Refined: " + input.OriginalText}, nil
}

// failingCompleteStore rejects the write that would mark a job completed.
type failingCompleteStore struct {
	*repository.MemoryJobStore
}

func (s failingCompleteStore) Update(ctx context.Context, jobID string, mutate repository.JobMutator) (domain.Job, error) {
	return s.MemoryJobStore.Update(ctx, jobID, func(job *domain.Job) error {
		if err := mutate(job); err != nil {
			return err
		}
		if job.Status == domain.JobStatusCompleted {
			return errors.New("redis timeout")
		}
		return nil
	})
}

type harness struct {
	jobs     *repository.MemoryJobStore
	sections *countingSections
	cache    *cache.ContentCache
	writer   *scriptedWriter
	executor *Executor
}

type harnessOption func(*harness, *ExecutorDeps, *cache.ContentCacheDeps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		jobs:     repository.NewMemoryJobStore(),
		sections: &countingSections{MemorySectionsRepository: repository.NewMemorySectionsRepository()},
		writer:   &scriptedWriter{},
	}
	cacheDeps := cache.ContentCacheDeps{Transcripts: staticTranscripts{}, Sections: h.sections}
	deps := ExecutorDeps{
		Jobs:     h.jobs,
		Writer:   h.writer,
		Sections: h.sections,
		Locker:   session.NewKeyedLocker(),
	}
	for _, opt := range opts {
		opt(h, &deps, &cacheDeps)
	}
	h.cache = cache.NewContentCache(cacheDeps)
	deps.Sessions = session.NewBuilder(h.cache, nil)
	deps.Cache = h.cache
	h.executor = NewExecutor(deps)
	return h
}

var testRequest = domain.JobRequest{
	SessionID:     "s1",
	ReportType:    "Technical_scope",
	CustomerID:    "C1",
	OpportunityID: "O1",
	SectionTitle:  "Technology Stack",
}

func (h *harness) run(t *testing.T, kind domain.JobKind, request domain.JobRequest, id string) domain.Job {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.jobs.Put(ctx, domain.NewJob(id, kind, request, time.Now().UTC())))
	h.executor.Dispatch(id)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.executor.Wait(waitCtx))

	job, err := h.jobs.Get(ctx, id)
	require.NoError(t, err)
	return job
}

func TestExecutorGenerateCompletes(t *testing.T) {
	h := newHarness(t)

	job := h.run(t, domain.JobKindGenerate, testRequest, "job-1")

	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Nil(t, job.Error)
	assert.Equal(t, "Generated Technology Stack", job.Result.Content)
	assert.Equal(t, "C1", job.Result.CustomerID)

	rows, err := h.sections.MemorySectionsRepository.ListSections(context.Background(), testRequest.SessionKey())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.SectionSourceGenerated, rows[0].Source)

	cached, err := h.cache.Sections(context.Background(), testRequest.SessionKey())
	require.NoError(t, err)
	assert.Equal(t, rows[0], cached["Technology Stack"])
}

func TestExecutorGenerateSeesDatabaseEdits(t *testing.T) {
	h := newHarness(t)
	h.sections.Set(testRequest.SessionKey(), domain.SectionRecord{
		Title:     "Executive Summary",
		Content:   "Edited by a human",
		UpdatedAt: time.Now().UTC(),
		Source:    domain.SectionSourceDB,
	})
	var seen map[string]domain.SectionRecord
	h.writer.generate = func(input service.GenerateInput) (service.WriteResult, error) {
		seen = input.Sections
		return service.WriteResult{Content: "ok"}, nil
	}

	job := h.run(t, domain.JobKindGenerate, testRequest, "job-1")

	require.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "Edited by a human", seen["Executive Summary"].Content)
	assert.Equal(t, int32(1), h.sections.reads.Load())
}

func TestExecutorFailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		opt      harnessOption
		wantCode domain.ErrorCode
	}{
		{
			name: "transcripts unavailable",
			opt: func(_ *harness, _ *ExecutorDeps, c *cache.ContentCacheDeps) {
				c.Transcripts = staticTranscripts{err: errors.New("bucket down")}
			},
			wantCode: domain.ErrCodeSessionBuildError,
		},
		{
			name: "model failure",
			opt: func(h *harness, _ *ExecutorDeps, _ *cache.ContentCacheDeps) {
				h.writer.generate = func(service.GenerateInput) (service.WriteResult, error) {
					return service.WriteResult{}, domain.WrapError(domain.ErrCodeModelError, errors.New("quota exceeded"))
				}
			},
			wantCode: domain.ErrCodeModelError,
		},
		{
			name: "section write fails",
			opt: func(h *harness, _ *ExecutorDeps, _ *cache.ContentCacheDeps) {
				h.sections.err = errors.New("db down")
			},
			wantCode: domain.ErrCodePersistError,
		},
		{
			name: "completed write fails",
			opt: func(h *harness, d *ExecutorDeps, _ *cache.ContentCacheDeps) {
				d.Jobs = failingCompleteStore{MemoryJobStore: h.jobs}
			},
			wantCode: domain.ErrCodePersistError,
		},
		{
			name: "panic",
			opt: func(h *harness, _ *ExecutorDeps, _ *cache.ContentCacheDeps) {
				h.writer.generate = func(service.GenerateInput) (service.WriteResult, error) {
					panic("nil map")
				}
			},
			wantCode: domain.ErrCodeInternalError,
		},
		{
			name: "unclassified error",
			opt: func(h *harness, _ *ExecutorDeps, _ *cache.ContentCacheDeps) {
				h.writer.generate = func(service.GenerateInput) (service.WriteResult, error) {
					return service.WriteResult{}, errors.New("boom")
				}
			},
			wantCode: domain.ErrCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opt)

			job := h.run(t, domain.JobKindGenerate, testRequest, "job-1")

			require.Equal(t, domain.JobStatusFailed, job.Status)
			assert.Nil(t, job.Result)
			require.NotNil(t, job.Error)
			assert.Equal(t, tt.wantCode, job.Error.Code)
			assert.NotEmpty(t, job.Error.Message)
		})
	}
}

func TestExecutorRefineUsesOriginalTextAndIgnoresDatabase(t *testing.T) {
	h := newHarness(t)
	key := testRequest.SessionKey()
	h.sections.Set(key, domain.SectionRecord{
		Title:     "Technology Stack",
		Content:   "Database copy",
		UpdatedAt: time.Now().UTC(),
		Source:    domain.SectionSourceDB,
	})
	request := testRequest
	request.OriginalText = "Caller copy\n\n| a | b |"
	request.Instruction = "Make it formal"

	job := h.run(t, domain.JobKindRefine, request, "job-1")

	require.Equal(t, domain.JobStatusCompleted, job.Status)
	require.Len(t, h.writer.refines, 1)
	assert.Equal(t, request.OriginalText, h.writer.refines[0].OriginalText)
	assert.Equal(t, "Refined: "+request.OriginalText, job.Result.Content)
	assert.Equal(t, int32(0), h.sections.reads.Load())

	rows, err := h.sections.MemorySectionsRepository.ListSections(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, job.Result.Content, rows[0].Content)
	assert.Equal(t, domain.SectionSourceRefined, rows[0].Source)
}

func TestExecutorSerializesJobsOfOneSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.jobs.Put(ctx, domain.NewJob(id, domain.JobKindGenerate, testRequest, time.Now().UTC())))
		h.executor.Dispatch(id)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.executor.Wait(waitCtx))

	assert.Equal(t, int32(1), h.writer.maxActive.Load())
	for _, id := range []string{"a", "b", "c", "d"} {
		job, err := h.jobs.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
	}
}

func TestExecutorTerminalJobsAreNotRerun(t *testing.T) {
	h := newHarness(t)
	job := h.run(t, domain.JobKindGenerate, testRequest, "job-1")
	require.Equal(t, domain.JobStatusCompleted, job.Status)

	h.executor.Run(context.Background(), "job-1")
	h.executor.Run(context.Background(), "missing")

	again, err := h.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, job, again)
	assert.Equal(t, int32(1), h.sections.writes.Load())
}

// flakyStartStore loses the write that would mark a job processing.
type flakyStartStore struct {
	*repository.MemoryJobStore
}

func (s flakyStartStore) Update(ctx context.Context, jobID string, mutate repository.JobMutator) (domain.Job, error) {
	return s.MemoryJobStore.Update(ctx, jobID, func(job *domain.Job) error {
		if err := mutate(job); err != nil {
			return err
		}
		if job.Status == domain.JobStatusProcessing {
			return errors.New("redis connection reset")
		}
		return nil
	})
}

func TestExecutorStartFailureIsRecordedAsFailed(t *testing.T) {
	h := newHarness(t, func(h *harness, deps *ExecutorDeps, _ *cache.ContentCacheDeps) {
		deps.Jobs = flakyStartStore{MemoryJobStore: h.jobs}
	})

	job := h.run(t, domain.JobKindGenerate, testRequest, "job-1")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, domain.ErrCodeInternalError, job.Error.Code)
	assert.Contains(t, job.Error.Message, "redis connection reset")
	assert.Equal(t, int32(0), h.sections.writes.Load())
}
