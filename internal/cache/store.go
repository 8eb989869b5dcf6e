package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iago/section-writer-back/internal/domain"
)

// Store persists per-session snapshots. The bool results report whether the
// part was ever written, which distinguishes "loaded, empty" from "missing".
type Store interface {
	Transcripts(ctx context.Context, key domain.SessionKey) ([]domain.Transcript, bool, error)
	SaveTranscripts(ctx context.Context, key domain.SessionKey, transcripts []domain.Transcript) error
	Facts(ctx context.Context, key domain.SessionKey) ([]domain.Fact, bool, error)
	SaveFacts(ctx context.Context, key domain.SessionKey, facts []domain.Fact) error
	Sections(ctx context.Context, key domain.SessionKey) (map[string]domain.SectionRecord, error)
	SaveSections(ctx context.Context, key domain.SessionKey, sections map[string]domain.SectionRecord) error
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type memoryEntry struct {
	transcripts       []domain.Transcript
	transcriptsLoaded bool
	facts             []domain.Fact
	factsExtracted    bool
	sections          map[string]domain.SectionRecord
	createdAt         time.Time
	expiresAt         time.Time
}

// MemoryStore keeps snapshots in process memory with a TTL and a size bound;
// the oldest session is evicted first.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(config Config) *MemoryStore {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 512
	}
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Transcripts(_ context.Context, key domain.SessionKey) ([]domain.Transcript, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key)
	if entry == nil || !entry.transcriptsLoaded {
		return nil, false, nil
	}
	return append([]domain.Transcript(nil), entry.transcripts...), true, nil
}

func (s *MemoryStore) SaveTranscripts(_ context.Context, key domain.SessionKey, transcripts []domain.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entryFor(key)
	entry.transcripts = append([]domain.Transcript(nil), transcripts...)
	entry.transcriptsLoaded = true
	return nil
}

func (s *MemoryStore) Facts(_ context.Context, key domain.SessionKey) ([]domain.Fact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key)
	if entry == nil || !entry.factsExtracted {
		return nil, false, nil
	}
	return append([]domain.Fact(nil), entry.facts...), true, nil
}

func (s *MemoryStore) SaveFacts(_ context.Context, key domain.SessionKey, facts []domain.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entryFor(key)
	entry.facts = append([]domain.Fact(nil), facts...)
	entry.factsExtracted = true
	return nil
}

func (s *MemoryStore) Sections(_ context.Context, key domain.SessionKey) (map[string]domain.SectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key)
	if entry == nil {
		return map[string]domain.SectionRecord{}, nil
	}
	return cloneSections(entry.sections), nil
}

func (s *MemoryStore) SaveSections(_ context.Context, key domain.SessionKey, sections map[string]domain.SectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entryFor(key).sections = cloneSections(sections)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// lookup must be called with the write lock held since it drops expired entries.
func (s *MemoryStore) lookup(key domain.SessionKey) *memoryEntry {
	entry, ok := s.entries[key.String()]
	if !ok {
		return nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key.String())
		return nil
	}
	return entry
}

func (s *MemoryStore) entryFor(key domain.SessionKey) *memoryEntry {
	now := s.now()
	if entry := s.lookup(key); entry != nil {
		entry.expiresAt = now.Add(s.ttl)
		return entry
	}
	if len(s.entries) >= s.maxEntries {
		s.evictOldest()
	}
	entry := &memoryEntry{
		sections:  map[string]domain.SectionRecord{},
		createdAt: now,
		expiresAt: now.Add(s.ttl),
	}
	s.entries[key.String()] = entry
	return entry
}

func (s *MemoryStore) evictOldest() {
	if len(s.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value *memoryEntry
	}
	pairs := make([]pair, 0, len(s.entries))
	for key, value := range s.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.createdAt.Before(pairs[j].value.createdAt)
	})
	delete(s.entries, pairs[0].key)
}

func cloneSections(sections map[string]domain.SectionRecord) map[string]domain.SectionRecord {
	cloned := make(map[string]domain.SectionRecord, len(sections))
	for title, record := range sections {
		cloned[title] = record
	}
	return cloned
}
