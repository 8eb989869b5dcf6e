package facts

import (
	"strings"

	"github.com/iago/section-writer-back/internal/domain"
)

// Merge dedupes facts by type and normalized value, keeping the first
// position of each key. A later duplicate replaces the kept fact only when
// its confidence is strictly higher; otherwise it may only fill a missing
// evidence quote.
func Merge(existing, incoming []domain.Fact) []domain.Fact {
	merged := make([]domain.Fact, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	upsert := func(fact domain.Fact) {
		normalized := normalizeValue(fact.Value)
		if normalized == "" {
			return
		}
		factType := fact.Type
		if factType == "" {
			factType = "OTHER"
		}
		key := factType + "\x00" + normalized

		position, exists := index[key]
		if !exists {
			index[key] = len(merged)
			merged = append(merged, fact)
			return
		}
		current := &merged[position]
		if fact.Confidence.Rank() > current.Confidence.Rank() {
			*current = fact
			return
		}
		if strings.TrimSpace(current.Evidence.Quote) == "" && strings.TrimSpace(fact.Evidence.Quote) != "" {
			current.Evidence.Quote = fact.Evidence.Quote
		}
	}

	for _, fact := range existing {
		upsert(fact)
	}
	for _, fact := range incoming {
		upsert(fact)
	}
	return merged
}

func normalizeValue(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}
