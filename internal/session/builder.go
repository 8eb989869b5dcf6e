// Package session assembles the per-job view of a report session from the
// content cache.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/section-writer-back/internal/ai"
	"github.com/iago/section-writer-back/internal/cache"
	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/logger"
)

// ContentCache is the subset of cache.ContentCache the builder drives.
type ContentCache interface {
	LoadTranscripts(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, error)
	GetOrExtractFacts(ctx context.Context, key domain.SessionKey, transcripts []domain.Transcript) ([]domain.Fact, error)
	SyncSections(ctx context.Context, key domain.SessionKey) (cache.SyncResult, error)
	CachedTranscripts(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, error)
	Facts(ctx context.Context, key domain.SessionKey) ([]domain.Fact, error)
	Sections(ctx context.Context, key domain.SessionKey) (map[string]domain.SectionRecord, error)
}

type Builder struct {
	cache ContentCache
	log   *logger.Logger
	now   func() time.Time
}

func NewBuilder(contentCache ContentCache, log *logger.Logger) *Builder {
	return &Builder{
		cache: contentCache,
		log:   logger.OrDiscard(log).WithComponent("session_builder"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// BuildForGenerate loads transcripts, then facts, then reconciles sections
// with the database. Each step sees the result of the previous one.
func (b *Builder) BuildForGenerate(ctx context.Context, key domain.SessionKey) (domain.SessionState, error) {
	started := b.now()

	transcripts, err := b.cache.LoadTranscripts(ctx, key)
	if err != nil {
		return domain.SessionState{}, domain.WrapError(domain.ErrCodeSessionBuildError, fmt.Errorf("load transcripts: %w", err))
	}

	facts, err := b.cache.GetOrExtractFacts(ctx, key, transcripts)
	if err != nil {
		code := domain.ErrCodeSessionBuildError
		if errors.Is(err, ai.ErrProviderUnavailable) {
			code = domain.ErrCodeModelError
		}
		return domain.SessionState{}, domain.WrapError(code, fmt.Errorf("extract facts: %w", err))
	}

	synced, err := b.cache.SyncSections(ctx, key)
	if err != nil {
		return domain.SessionState{}, domain.WrapError(domain.ErrCodeSessionBuildError, fmt.Errorf("sync sections: %w", err))
	}

	b.log.WithFields(logger.Fields{
		logger.FieldSessionKey: key.String(),
		"transcripts":          len(transcripts),
		"facts":                len(facts),
		"sections":             len(synced.Sections),
		logger.FieldDurationMs: b.now().Sub(started).Milliseconds(),
	}).Debug("session built for generate")

	return domain.SessionState{
		Key:         key,
		Transcripts: transcripts,
		Facts:       facts,
		Sections:    synced.Sections,
		Stale:       synced.Stale,
		BuiltAt:     b.now(),
	}, nil
}

// LoadForRefine returns whatever the cache holds for the session. It never
// reads the database or loads transcripts, so a session that was never
// generated yields empty state.
func (b *Builder) LoadForRefine(ctx context.Context, key domain.SessionKey) (domain.SessionState, error) {
	transcripts, err := b.cache.CachedTranscripts(ctx, key)
	if err != nil {
		return domain.SessionState{}, domain.WrapError(domain.ErrCodeSessionBuildError, err)
	}
	facts, err := b.cache.Facts(ctx, key)
	if err != nil {
		return domain.SessionState{}, domain.WrapError(domain.ErrCodeSessionBuildError, err)
	}
	sections, err := b.cache.Sections(ctx, key)
	if err != nil {
		return domain.SessionState{}, domain.WrapError(domain.ErrCodeSessionBuildError, err)
	}
	return domain.SessionState{
		Key:         key,
		Transcripts: transcripts,
		Facts:       facts,
		Sections:    sections,
		BuiltAt:     b.now(),
	}, nil
}
