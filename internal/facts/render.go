package facts

import (
	"fmt"
	"strings"

	"github.com/iago/section-writer-back/internal/domain"
)

const DefaultRenderBudget = 6000

type Rendered struct {
	Text       string
	Facts      []domain.Fact
	TokenCount int
}

// Render writes the highest ranked facts that fit within maxTokens, one per
// line with type, confidence and source. Selected facts keep rank order.
func Render(scored []ScoredFact, maxTokens int) Rendered {
	if maxTokens <= 0 {
		maxTokens = DefaultRenderBudget
	}

	var b strings.Builder
	selected := make([]domain.Fact, 0, len(scored))
	total := 0
	for _, item := range scored {
		line := formatFact(item.Fact)
		tokens := estimateTokens(line)
		if tokens <= 0 || total+tokens > maxTokens {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		selected = append(selected, item.Fact)
		total += tokens
	}
	return Rendered{
		Text:       strings.TrimSpace(b.String()),
		Facts:      selected,
		TokenCount: total,
	}
}

// RenderAll writes every fact in its given order, for prompts that need
// the full set.
func RenderAll(facts []domain.Fact) string {
	var b strings.Builder
	for _, fact := range facts {
		b.WriteString(formatFact(fact))
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func formatFact(fact domain.Fact) string {
	line := fmt.Sprintf("- [%s|%s] %s", fact.Type, fact.Confidence, strings.TrimSpace(fact.Value))
	source := fact.Evidence.TranscriptFile
	if source == "" {
		source = fact.Evidence.TranscriptKey
	}
	if source != "" {
		line += fmt.Sprintf(" (source: %s#%d)", source, fact.Evidence.ChunkID)
	}
	return line
}

func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	count := len([]rune(trimmed)) / 4
	if count < 1 {
		count = 1
	}
	return count
}
