// Package cache owns the per-session working set: transcripts and facts,
// loaded once, and section snapshots reconciled against the database.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/logger"
)

type TranscriptSource interface {
	Fetch(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, error)
}

type FactExtractor interface {
	Extract(ctx context.Context, transcripts []domain.Transcript) ([]domain.Fact, error)
}

type SectionSource interface {
	ListSections(ctx context.Context, key domain.SessionKey) ([]domain.SectionRecord, error)
}

type ContentCacheDeps struct {
	Store       Store
	Transcripts TranscriptSource
	Facts       FactExtractor
	Sections    SectionSource
	Logger      *logger.Logger
}

type ContentCache struct {
	store       Store
	transcripts TranscriptSource
	facts       FactExtractor
	sections    SectionSource
	log         *logger.Logger

	group singleflight.Group
	// sectionsMu serializes read-modify-write cycles on section maps.
	sectionsMu sync.Mutex
}

func NewContentCache(deps ContentCacheDeps) *ContentCache {
	store := deps.Store
	if store == nil {
		store = NewMemoryStore(Config{})
	}
	return &ContentCache{
		store:       store,
		transcripts: deps.Transcripts,
		facts:       deps.Facts,
		sections:    deps.Sections,
		log:         logger.OrDiscard(deps.Logger).WithComponent("content_cache"),
	}
}

// LoadTranscripts fetches transcripts on the first miss and serves the cached
// copy afterwards. Loaded transcripts are never refreshed.
func (c *ContentCache) LoadTranscripts(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, error) {
	if cached, ok, err := c.store.Transcripts(ctx, key); err != nil {
		return nil, fmt.Errorf("read cached transcripts: %w", err)
	} else if ok {
		return cached, nil
	}
	if c.transcripts == nil {
		return nil, fmt.Errorf("no transcript source configured")
	}

	value, err, _ := c.group.Do("transcripts:"+key.String(), func() (any, error) {
		if cached, ok, err := c.store.Transcripts(ctx, key); err == nil && ok {
			return cached, nil
		}
		started := time.Now()
		transcripts, err := c.transcripts.Fetch(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("fetch transcripts: %w", err)
		}
		if err := c.store.SaveTranscripts(ctx, key, transcripts); err != nil {
			return nil, fmt.Errorf("cache transcripts: %w", err)
		}
		c.log.WithFields(logger.Fields{
			logger.FieldSessionKey: key.String(),
			logger.FieldCount:      len(transcripts),
			logger.FieldDurationMs: time.Since(started).Milliseconds(),
		}).Info("transcripts loaded")
		return transcripts, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]domain.Transcript), nil
}

// GetOrExtractFacts runs extraction once per session and persists the result,
// including an empty result.
func (c *ContentCache) GetOrExtractFacts(ctx context.Context, key domain.SessionKey, transcripts []domain.Transcript) ([]domain.Fact, error) {
	if cached, ok, err := c.store.Facts(ctx, key); err != nil {
		return nil, fmt.Errorf("read cached facts: %w", err)
	} else if ok {
		return cached, nil
	}
	if c.facts == nil {
		return []domain.Fact{}, nil
	}

	value, err, _ := c.group.Do("facts:"+key.String(), func() (any, error) {
		if cached, ok, err := c.store.Facts(ctx, key); err == nil && ok {
			return cached, nil
		}
		started := time.Now()
		facts, err := c.facts.Extract(ctx, transcripts)
		if err != nil {
			return nil, fmt.Errorf("extract facts: %w", err)
		}
		if facts == nil {
			facts = []domain.Fact{}
		}
		if err := c.store.SaveFacts(ctx, key, facts); err != nil {
			return nil, fmt.Errorf("cache facts: %w", err)
		}
		c.log.WithFields(logger.Fields{
			logger.FieldSessionKey: key.String(),
			logger.FieldCount:      len(facts),
			logger.FieldDurationMs: time.Since(started).Milliseconds(),
		}).Info("facts extracted")
		return facts, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]domain.Fact), nil
}

// SyncSections reads every database section for the session, merges them over
// the cached snapshot with Reconcile and persists the merged map.
func (c *ContentCache) SyncSections(ctx context.Context, key domain.SessionKey) (SyncResult, error) {
	if c.sections == nil {
		return SyncResult{}, fmt.Errorf("no section source configured")
	}
	remote, err := c.sections.ListSections(ctx, key)
	if err != nil {
		return SyncResult{}, fmt.Errorf("list database sections: %w", err)
	}

	c.sectionsMu.Lock()
	defer c.sectionsMu.Unlock()

	known, err := c.store.Sections(ctx, key)
	if err != nil {
		return SyncResult{}, fmt.Errorf("read cached sections: %w", err)
	}
	result := Reconcile(known, remote)
	if err := c.store.SaveSections(ctx, key, result.Sections); err != nil {
		return SyncResult{}, fmt.Errorf("cache sections: %w", err)
	}

	entry := c.log.WithFields(logger.Fields{
		logger.FieldSessionKey: key.String(),
		logger.FieldCount:      len(result.Sections),
		"updated":              len(result.Updated),
	})
	if len(result.Stale) > 0 {
		entry.WithField("stale", result.Stale).Warn("database overrode newer cached sections")
	} else {
		entry.Debug("sections synced")
	}
	return result, nil
}

// Sections returns the cached snapshot without consulting the database.
func (c *ContentCache) Sections(ctx context.Context, key domain.SessionKey) (map[string]domain.SectionRecord, error) {
	sections, err := c.store.Sections(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read cached sections: %w", err)
	}
	return sections, nil
}

// Facts returns cached facts, or nil when extraction never ran.
func (c *ContentCache) Facts(ctx context.Context, key domain.SessionKey) ([]domain.Fact, error) {
	facts, _, err := c.store.Facts(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read cached facts: %w", err)
	}
	return facts, nil
}

// CachedTranscripts returns transcripts only if they were already loaded.
func (c *ContentCache) CachedTranscripts(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, error) {
	transcripts, _, err := c.store.Transcripts(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read cached transcripts: %w", err)
	}
	return transcripts, nil
}

// PutSection overwrites one cached section.
func (c *ContentCache) PutSection(ctx context.Context, key domain.SessionKey, record domain.SectionRecord) error {
	c.sectionsMu.Lock()
	defer c.sectionsMu.Unlock()

	sections, err := c.store.Sections(ctx, key)
	if err != nil {
		return fmt.Errorf("read cached sections: %w", err)
	}
	sections[record.Title] = record
	if err := c.store.SaveSections(ctx, key, sections); err != nil {
		return fmt.Errorf("cache section: %w", err)
	}
	return nil
}
