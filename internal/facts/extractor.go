// Package facts turns transcripts into atomic, evidence-backed facts and
// renders them for prompts.
package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/section-writer-back/internal/ai"
	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/logger"
)

const extractionInstructions = "You are a strict JSON generator. Return ONLY JSON that matches the requested schema. " +
	"Do not include markdown fences, commentary, or extra keys."

type ExtractorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Concurrency  int
}

type Extractor struct {
	client    ai.TextGenerator
	profile   ai.ModelProfile
	config    ExtractorConfig
	validator *itemValidator
	log       *logger.Logger
}

func NewExtractor(client ai.TextGenerator, router *ai.ModelRouter, config ExtractorConfig, log *logger.Logger) (*Extractor, error) {
	if router == nil {
		router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = DefaultChunkOverlap
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	validator, err := newItemValidator()
	if err != nil {
		return nil, err
	}
	return &Extractor{
		client:    client,
		profile:   router.Select(ai.TaskFacts),
		config:    config,
		validator: validator,
		log:       logger.OrDiscard(log).WithComponent("fact_extractor"),
	}, nil
}

type chunkJob struct {
	transcript domain.Transcript
	chunk      Chunk
}

// Extract calls the model once per chunk, in parallel. A chunk whose call or
// decoding fails contributes nothing; the merge runs in transcript and chunk
// order regardless of completion order.
func (e *Extractor) Extract(ctx context.Context, transcripts []domain.Transcript) ([]domain.Fact, error) {
	if len(transcripts) == 0 {
		return []domain.Fact{}, nil
	}
	if e.client == nil || !e.client.Available() {
		return nil, ai.ErrProviderUnavailable
	}

	jobs := make([]chunkJob, 0)
	for _, transcript := range transcripts {
		for _, chunk := range ChunkText(transcript.Text, e.config.ChunkSize, e.config.ChunkOverlap) {
			jobs = append(jobs, chunkJob{transcript: transcript, chunk: chunk})
		}
	}

	results := make([][]domain.Fact, len(jobs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			facts, err := e.extractChunk(gCtx, job)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				e.log.WithError(err).WithFields(logger.Fields{
					"transcript_key": job.transcript.Key,
					"chunk_id":       job.chunk.ID,
				}).Warn("fact extraction skipped chunk")
				return nil
			}
			results[i] = facts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := []domain.Fact{}
	stats := make(map[string][]int)
	chunkCounts := make(map[string]int)
	for i, job := range jobs {
		chunkCounts[job.transcript.Key]++
		if len(results[i]) == 0 {
			continue
		}
		stats[job.transcript.Key] = append(stats[job.transcript.Key], job.chunk.ID)
		merged = Merge(merged, results[i])
	}
	for _, transcript := range transcripts {
		e.log.WithFields(logger.Fields{
			"transcript_key":    transcript.Key,
			"transcript_file":   transcript.FileName,
			"num_chunks":        chunkCounts[transcript.Key],
			"chunks_with_facts": stats[transcript.Key],
		}).Debug("fact extraction stats")
	}
	return merged, nil
}

func (e *Extractor) extractChunk(ctx context.Context, job chunkJob) ([]domain.Fact, error) {
	started := time.Now()
	prompt := buildFactsPrompt(job.transcript, job.chunk)
	result, err := ai.GenerateWithFallback(ctx, e.client, e.profile, extractionInstructions, prompt)
	if err != nil {
		return nil, err
	}

	items, err := decodeItems(result.Text)
	if err != nil {
		return nil, err
	}

	facts := make([]domain.Fact, 0, len(items))
	dropped := 0
	for _, item := range items {
		problems, err := e.validator.validate(item)
		if err != nil || len(problems) > 0 {
			dropped++
			continue
		}
		encoded, err := json.Marshal(item)
		if err != nil {
			dropped++
			continue
		}
		var fact domain.Fact
		if err := json.Unmarshal(encoded, &fact); err != nil {
			dropped++
			continue
		}
		facts = append(facts, fact)
	}

	e.log.WithFields(logger.Fields{
		"transcript_key":       job.transcript.Key,
		"chunk_id":             job.chunk.ID,
		logger.FieldCount:      len(facts),
		"dropped":              dropped,
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
	}).Debug("chunk facts extracted")
	return facts, nil
}

// decodeItems accepts either a bare JSON array or an object wrapping it under
// "facts", since JSON modes differ between providers.
func decodeItems(text string) ([]any, error) {
	var decoded any
	if err := ai.ExtractJSON(text, &decoded); err != nil {
		return nil, err
	}
	switch typed := decoded.(type) {
	case []any:
		return typed, nil
	case map[string]any:
		if list, ok := typed["facts"].([]any); ok {
			return list, nil
		}
		if _, ok := typed["type"]; ok {
			return []any{typed}, nil
		}
	}
	return nil, fmt.Errorf("unexpected facts payload %T", decoded)
}

func buildFactsPrompt(transcript domain.Transcript, chunk Chunk) string {
	var b strings.Builder
	b.WriteString("Extract atomic facts from the transcript chunk.\n\n")
	b.WriteString("Return ONLY JSON: a list of fact objects with keys exactly:\n")
	b.WriteString("- type (one of: " + strings.Join(Types, ", ") + ")\n")
	b.WriteString("- value (string)\n")
	b.WriteString("- confidence (HIGH/MEDIUM/LOW)\n")
	b.WriteString("- evidence: {transcript_key, transcript_file, chunk_id, quote, anchor}\n\n")
	b.WriteString("FACT JSON SCHEMA:\n")
	b.WriteString(factSchemaJSON)
	b.WriteString("\nRules:\n")
	b.WriteString("- Be exhaustive. Prefer many small facts over fewer big ones.\n")
	b.WriteString("- Do NOT invent. If uncertain, keep confidence LOW.\n")
	b.WriteString("- quote must be a short excerpt (<=200 chars) from this chunk.\n\n")
	fmt.Fprintf(&b, "transcript_key = %s\n", transcript.Key)
	fmt.Fprintf(&b, "transcript_file = %s\n", transcript.FileName)
	fmt.Fprintf(&b, "chunk_id = %d\n\n", chunk.ID)
	b.WriteString("CHUNK:\n")
	b.WriteString(chunk.Text)
	return b.String()
}
