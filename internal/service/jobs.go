package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iago/section-writer-back/internal/catalog"
	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/logger"
	"github.com/iago/section-writer-back/internal/policy"
	"github.com/iago/section-writer-back/internal/repository"
)

var ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")

// Dispatcher starts execution of a stored pending job off the request path.
type Dispatcher interface {
	Dispatch(jobID string)
}

type JobsServiceDeps struct {
	Store      repository.JobStore
	Catalog    *catalog.Catalog
	Dispatcher Dispatcher
	// IdempotencyTTL bounds how long a submission key is remembered.
	IdempotencyTTL time.Duration
	Logger         *logger.Logger
}

type JobsService struct {
	store      repository.JobStore
	catalog    *catalog.Catalog
	dispatcher Dispatcher
	log        *logger.Logger
	newID      func() string
	now        func() time.Time

	idemMu  sync.Mutex
	idemTTL time.Duration
	idem    map[string]idempotencyEntry
}

type idempotencyEntry struct {
	fingerprint string
	jobID       string
	expiresAt   time.Time
}

func NewJobsService(deps JobsServiceDeps) *JobsService {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.IdempotencyTTL <= 0 {
		deps.IdempotencyTTL = repository.DefaultJobTTL
	}
	return &JobsService{
		store:      deps.Store,
		catalog:    deps.Catalog,
		dispatcher: deps.Dispatcher,
		log:        logger.OrDiscard(deps.Logger).WithComponent("jobs_service"),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
		idemTTL:    deps.IdempotencyTTL,
		idem:       make(map[string]idempotencyEntry),
	}
}

// Submit validates the request against the catalog, stores a pending job and
// dispatches it. Nothing is stored when validation fails. A non-empty
// idempotencyKey returns the earlier job for an identical payload.
func (s *JobsService) Submit(ctx context.Context, kind domain.JobKind, request domain.JobRequest, idempotencyKey string) (domain.Job, error) {
	if err := s.validate(kind, request); err != nil {
		return domain.Job{}, err
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return s.create(ctx, kind, request)
	}

	fingerprint, err := fingerprintOf(kind, request)
	if err != nil {
		return domain.Job{}, err
	}

	s.idemMu.Lock()
	defer s.idemMu.Unlock()

	now := s.now()
	s.pruneIdempotency(now)
	if entry, ok := s.idem[idempotencyKey]; ok {
		if entry.fingerprint != fingerprint {
			return domain.Job{}, domain.WrapError(domain.ErrCodeIdempotency, ErrIdempotencyConflict)
		}
		job, err := s.store.Get(ctx, entry.jobID)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.Job{}, fmt.Errorf("load idempotent job: %w", err)
		}
		delete(s.idem, idempotencyKey)
	}

	job, err := s.create(ctx, kind, request)
	if err != nil {
		return domain.Job{}, err
	}
	s.idem[idempotencyKey] = idempotencyEntry{
		fingerprint: fingerprint,
		jobID:       job.ID,
		expiresAt:   now.Add(s.idemTTL),
	}
	return job, nil
}

// Poll reads the current job record. It never changes state.
func (s *JobsService) Poll(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Job{}, domain.WrapError(domain.ErrCodeJobNotFound, fmt.Errorf("job %s not found", jobID))
		}
		return domain.Job{}, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (s *JobsService) validate(kind domain.JobKind, request domain.JobRequest) error {
	if kind != domain.JobKindGenerate && kind != domain.JobKindRefine {
		return domain.WrapError(domain.ErrCodeBadRequest, fmt.Errorf("unknown job kind %q", kind))
	}
	missing := make([]string, 0)
	for name, value := range map[string]string{
		"session_id":     request.SessionID,
		"type":           request.ReportType,
		"customer_id":    request.CustomerID,
		"opportunity_id": request.OpportunityID,
		"section_title":  request.SectionTitle,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if kind == domain.JobKindRefine && strings.TrimSpace(request.Instruction) == "" {
		missing = append(missing, "prompt")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domain.WrapError(domain.ErrCodeBadRequest, fmt.Errorf("missing fields: %s", strings.Join(missing, ", ")))
	}

	if _, err := s.catalog.Lookup(request.ReportType, request.SectionTitle); err != nil {
		if errors.Is(err, catalog.ErrUnknownReportType) {
			return domain.WrapError(domain.ErrCodeBadRequest, err)
		}
		return domain.WrapError(domain.ErrCodeInvalidSection, err)
	}

	if kind == domain.JobKindRefine {
		if err := policy.EnforceRefineInput(request.Instruction, request.OriginalText); err != nil {
			return domain.WrapError(domain.ErrCodeValidation, err)
		}
	}
	return nil
}

func (s *JobsService) create(ctx context.Context, kind domain.JobKind, request domain.JobRequest) (domain.Job, error) {
	job := domain.NewJob(s.newID(), kind, request, s.now())
	if err := s.store.Put(ctx, job); err != nil {
		return domain.Job{}, domain.WrapError(domain.ErrCodePersistError, fmt.Errorf("create job: %w", err))
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(job.ID)
	}
	s.log.WithFields(logger.Fields{
		logger.FieldJobID:      job.ID,
		logger.FieldJobKind:    string(kind),
		logger.FieldSessionKey: request.SessionKey().String(),
		"section_title":        request.SectionTitle,
	}).Info("job submitted")
	return job, nil
}

func (s *JobsService) pruneIdempotency(now time.Time) {
	for key, entry := range s.idem {
		if !now.Before(entry.expiresAt) {
			delete(s.idem, key)
		}
	}
}

func fingerprintOf(kind domain.JobKind, request domain.JobRequest) (string, error) {
	payload, err := json.Marshal(struct {
		Kind    domain.JobKind    `json:"kind"`
		Request domain.JobRequest `json:"request"`
	}{kind, request})
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
