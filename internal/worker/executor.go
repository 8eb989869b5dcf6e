// Package worker runs submitted jobs off the request path and records their
// outcome in the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/logger"
	"github.com/iago/section-writer-back/internal/repository"
	"github.com/iago/section-writer-back/internal/service"
)

type SessionBuilder interface {
	BuildForGenerate(ctx context.Context, key domain.SessionKey) (domain.SessionState, error)
	LoadForRefine(ctx context.Context, key domain.SessionKey) (domain.SessionState, error)
}

type SectionWriter interface {
	Generate(ctx context.Context, input service.GenerateInput) (service.WriteResult, error)
	Refine(ctx context.Context, input service.RefineInput) (service.WriteResult, error)
}

// SectionStore is the authoritative section database.
type SectionStore interface {
	UpsertSection(ctx context.Context, key domain.SessionKey, title, content, source string) (domain.SectionRecord, error)
}

type SectionCache interface {
	PutSection(ctx context.Context, key domain.SessionKey, record domain.SectionRecord) error
}

type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type ExecutorDeps struct {
	Jobs     repository.JobStore
	Sessions SessionBuilder
	Writer   SectionWriter
	Sections SectionStore
	Cache    SectionCache
	// Locker serializes jobs of the same session. Nil runs them concurrently.
	Locker Locker
	Logger *logger.Logger
}

// Executor drives each job through pending -> processing -> completed|failed
// in its own goroutine.
type Executor struct {
	jobs     repository.JobStore
	sessions SessionBuilder
	writer   SectionWriter
	sections SectionStore
	cache    SectionCache
	locker   Locker
	log      *logger.Logger
	now      func() time.Time

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func NewExecutor(deps ExecutorDeps) *Executor {
	return &Executor{
		jobs:     deps.Jobs,
		sessions: deps.Sessions,
		writer:   deps.Writer,
		sections: deps.Sections,
		cache:    deps.Cache,
		locker:   deps.Locker,
		log:      logger.OrDiscard(deps.Logger).WithComponent("executor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs the job in a new goroutine. Jobs are detached from the
// submitting request and have no server-side deadline.
func (e *Executor) Dispatch(jobID string) {
	e.wg.Add(1)
	e.inFlight.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.inFlight.Add(-1)
		e.Run(logger.WithContext(context.Background(), e.log.WithJobID(jobID)), jobID)
	}()
}

// Wait blocks until every dispatched job has finished or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports how many dispatched jobs have not returned yet.
func (e *Executor) InFlight() int64 {
	return e.inFlight.Load()
}

// Run executes one stored job to a terminal state.
func (e *Executor) Run(ctx context.Context, jobID string) {
	log := e.log.WithJobID(jobID)
	started := e.now()

	job, err := e.jobs.Update(ctx, jobID, func(job *domain.Job) error {
		return job.Start(e.now())
	})
	if err != nil {
		log.WithError(err).Error("job could not start")
		if !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, domain.ErrInvalidTransition) {
			e.fail(ctx, log, jobID, domain.ErrCodeInternalError, fmt.Sprintf("start job: %v", err))
		}
		return
	}
	log = log.WithFields(logger.Fields{
		logger.FieldJobKind:    string(job.Kind),
		logger.FieldSessionKey: job.Request.SessionKey().String(),
	})

	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("job panicked: %v", recovered)
			e.fail(ctx, log, jobID, domain.ErrCodeInternalError, fmt.Sprintf("internal error: %v", recovered))
		}
	}()

	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, job.Request.SessionKey().String())
		if err != nil {
			e.fail(ctx, log, jobID, domain.ErrCodeInternalError, err.Error())
			return
		}
		defer unlock()
	}

	result, err := e.execute(ctx, job)
	if err != nil {
		code := domain.CodeOf(err)
		log.WithError(err).WithField("error_code", string(code)).Warn("job failed")
		e.fail(ctx, log, jobID, code, err.Error())
		return
	}

	_, err = e.jobs.Update(ctx, jobID, func(job *domain.Job) error {
		return job.Complete(result, e.now())
	})
	if err != nil {
		log.WithError(err).Error("persist job result")
		e.fail(ctx, log, jobID, domain.ErrCodePersistError, fmt.Sprintf("persist job result: %v", err))
		return
	}
	log.WithFields(logger.Fields{
		logger.FieldStatus:     string(domain.JobStatusCompleted),
		logger.FieldDurationMs: e.now().Sub(started).Milliseconds(),
	}).Info("job completed")
}

func (e *Executor) execute(ctx context.Context, job domain.Job) (domain.JobResult, error) {
	switch job.Kind {
	case domain.JobKindGenerate:
		return e.generate(ctx, job.Request)
	case domain.JobKindRefine:
		return e.refine(ctx, job.Request)
	default:
		return domain.JobResult{}, fmt.Errorf("unsupported job kind: %s", job.Kind)
	}
}

func (e *Executor) generate(ctx context.Context, request domain.JobRequest) (domain.JobResult, error) {
	key := request.SessionKey()
	state, err := e.sessions.BuildForGenerate(ctx, key)
	if err != nil {
		return domain.JobResult{}, err
	}
	if len(state.Stale) > 0 {
		logger.FromContext(ctx).WithField("stale", state.Stale).Info("generating over database edits newer than cache")
	}

	written, err := e.writer.Generate(ctx, service.GenerateInput{
		ReportType:   request.ReportType,
		SectionTitle: request.SectionTitle,
		Facts:        state.Facts,
		Sections:     state.Sections,
	})
	if err != nil {
		return domain.JobResult{}, err
	}
	if err := e.persist(ctx, key, request.SectionTitle, written.Content, domain.SectionSourceGenerated); err != nil {
		return domain.JobResult{}, err
	}
	return resultFor(request, written.Content), nil
}

func (e *Executor) refine(ctx context.Context, request domain.JobRequest) (domain.JobResult, error) {
	key := request.SessionKey()
	state, err := e.sessions.LoadForRefine(ctx, key)
	if err != nil {
		return domain.JobResult{}, err
	}

	written, err := e.writer.Refine(ctx, service.RefineInput{
		ReportType:   request.ReportType,
		SectionTitle: request.SectionTitle,
		OriginalText: request.OriginalText,
		Instruction:  request.Instruction,
		Facts:        state.Facts,
	})
	if err != nil {
		return domain.JobResult{}, err
	}
	if err := e.persist(ctx, key, request.SectionTitle, written.Content, domain.SectionSourceRefined); err != nil {
		return domain.JobResult{}, err
	}
	return resultFor(request, written.Content), nil
}

// persist writes the database row first and caches it with the database
// timestamp, so the next sync sees the two as equal.
func (e *Executor) persist(ctx context.Context, key domain.SessionKey, title, content, source string) error {
	if e.sections == nil {
		return domain.WrapError(domain.ErrCodePersistError, errors.New("no section store configured"))
	}
	record, err := e.sections.UpsertSection(ctx, key, title, content, source)
	if err != nil {
		return domain.WrapError(domain.ErrCodePersistError, fmt.Errorf("write section: %w", err))
	}
	if e.cache != nil {
		if err := e.cache.PutSection(ctx, key, record); err != nil {
			return domain.WrapError(domain.ErrCodePersistError, fmt.Errorf("cache section: %w", err))
		}
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, log *logger.Logger, jobID string, code domain.ErrorCode, message string) {
	_, err := e.jobs.Update(ctx, jobID, func(job *domain.Job) error {
		return job.Fail(code, message, e.now())
	})
	if err != nil {
		log.WithError(err).WithField("error_code", string(code)).Error("job failure could not be recorded")
	}
}

func resultFor(request domain.JobRequest, content string) domain.JobResult {
	return domain.JobResult{
		CustomerID:    request.CustomerID,
		OpportunityID: request.OpportunityID,
		SectionTitle:  request.SectionTitle,
		Content:       content,
	}
}
