package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/section-writer-back/internal/ai"
	"github.com/iago/section-writer-back/internal/cache"
	"github.com/iago/section-writer-back/internal/domain"
)

var testKey = domain.SessionKey{CustomerID: "C1", OpportunityID: "O1", ReportType: "Technical_scope"}

type recordingCache struct {
	mu    sync.Mutex
	calls []string

	transcriptsErr error
	factsErr       error
	syncErr        error

	seenTranscripts []domain.Transcript
}

func (c *recordingCache) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *recordingCache) LoadTranscripts(context.Context, domain.SessionKey) ([]domain.Transcript, error) {
	c.record("transcripts")
	if c.transcriptsErr != nil {
		return nil, c.transcriptsErr
	}
	return []domain.Transcript{{Key: "discovery", Text: "needs a warehouse"}}, nil
}

func (c *recordingCache) GetOrExtractFacts(_ context.Context, _ domain.SessionKey, transcripts []domain.Transcript) ([]domain.Fact, error) {
	c.record("facts")
	c.seenTranscripts = transcripts
	if c.factsErr != nil {
		return nil, c.factsErr
	}
	return []domain.Fact{{Type: "OBJECTIVE", Value: "warehouse"}}, nil
}

func (c *recordingCache) SyncSections(context.Context, domain.SessionKey) (cache.SyncResult, error) {
	c.record("sync")
	if c.syncErr != nil {
		return cache.SyncResult{}, c.syncErr
	}
	return cache.SyncResult{
		Sections: map[string]domain.SectionRecord{"Executive Summary": {Title: "Executive Summary", Content: "db"}},
		Stale:    []string{"Executive Summary"},
	}, nil
}

func (c *recordingCache) CachedTranscripts(context.Context, domain.SessionKey) ([]domain.Transcript, error) {
	c.record("cached_transcripts")
	return nil, nil
}

func (c *recordingCache) Facts(context.Context, domain.SessionKey) ([]domain.Fact, error) {
	c.record("cached_facts")
	return []domain.Fact{{Type: "KPI", Value: "30%"}}, nil
}

func (c *recordingCache) Sections(context.Context, domain.SessionKey) (map[string]domain.SectionRecord, error) {
	c.record("cached_sections")
	return map[string]domain.SectionRecord{}, nil
}

func TestBuildForGenerateRunsStepsInOrder(t *testing.T) {
	contentCache := &recordingCache{}
	builder := NewBuilder(contentCache, nil)

	state, err := builder.BuildForGenerate(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, []string{"transcripts", "facts", "sync"}, contentCache.calls)
	assert.Equal(t, state.Transcripts, contentCache.seenTranscripts)
	assert.Equal(t, testKey, state.Key)
	assert.Len(t, state.Facts, 1)
	assert.Equal(t, "db", state.Sections["Executive Summary"].Content)
	assert.Equal(t, []string{"Executive Summary"}, state.Stale)
}

func TestBuildForGenerateErrorCodes(t *testing.T) {
	tests := []struct {
		name      string
		cache     *recordingCache
		wantCode  domain.ErrorCode
		wantCalls []string
	}{
		{
			name:      "transcripts",
			cache:     &recordingCache{transcriptsErr: errors.New("bucket down")},
			wantCode:  domain.ErrCodeSessionBuildError,
			wantCalls: []string{"transcripts"},
		},
		{
			name:      "facts store",
			cache:     &recordingCache{factsErr: errors.New("disk full")},
			wantCode:  domain.ErrCodeSessionBuildError,
			wantCalls: []string{"transcripts", "facts"},
		},
		{
			name:      "facts provider",
			cache:     &recordingCache{factsErr: ai.ErrProviderUnavailable},
			wantCode:  domain.ErrCodeModelError,
			wantCalls: []string{"transcripts", "facts"},
		},
		{
			name:      "sync",
			cache:     &recordingCache{syncErr: errors.New("db down")},
			wantCode:  domain.ErrCodeSessionBuildError,
			wantCalls: []string{"transcripts", "facts", "sync"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(tt.cache, nil).BuildForGenerate(context.Background(), testKey)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.CodeOf(err))
			assert.Equal(t, tt.wantCalls, tt.cache.calls)
		})
	}
}

func TestLoadForRefineNeverSyncs(t *testing.T) {
	contentCache := &recordingCache{}
	builder := NewBuilder(contentCache, nil)

	state, err := builder.LoadForRefine(context.Background(), testKey)
	require.NoError(t, err)

	assert.NotContains(t, contentCache.calls, "sync")
	assert.NotContains(t, contentCache.calls, "transcripts")
	assert.Len(t, state.Facts, 1)
	assert.Empty(t, state.Sections)
}

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, testKey.String())
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			current := active.Add(1)
			for {
				seen := maxActive.Load()
				if current <= seen || maxActive.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, locker.Len())
}

func TestKeyedLockerAllowsDifferentKeys(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, locker.Len())

	unlockA()
	unlockA()
	unlockB()
	assert.Equal(t, 0, locker.Len())
}

func TestKeyedLockerHonoursContext(t *testing.T) {
	locker := NewKeyedLocker()
	unlock, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, locker.Len())
}
