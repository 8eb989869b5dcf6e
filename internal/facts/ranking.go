package facts

import (
	"sort"
	"strings"
	"unicode"

	"github.com/iago/section-writer-back/internal/domain"
)

type ScoredFact struct {
	Fact  domain.Fact
	Score float64
}

// sectionTypeHints boosts fact kinds that usually feed a section with a
// matching title word.
var sectionTypeHints = map[string][]string{
	"timeline":        {"TIMELINE", "MILESTONE", "PHASE"},
	"risk":            {"RISK", "MITIGATION"},
	"risks":           {"RISK", "MITIGATION"},
	"cost":            {"COST_CAPEX", "COST_OPEX", "PRICING_MODEL", "ROI_ASSUMPTION"},
	"resource":        {"RESOURCE"},
	"resources":       {"RESOURCE"},
	"integration":     {"INTEGRATION_TARGET", "SYSTEM", "DATA_SOURCE"},
	"technology":      {"SYSTEM", "INTEGRATION_TARGET", "DATA_SOURCE"},
	"technical":       {"SYSTEM", "DATA_QUALITY", "DATA_VOLUME", "ACCESS_CONSTRAINT"},
	"requirements":    {"OBJECTIVE", "WORKFLOW", "WORKFLOW_STEP", "KPI"},
	"current":         {"PROBLEM", "PAIN_POINT", "WORKFLOW"},
	"security":        {"ACCESS_CONSTRAINT", "RISK"},
	"summary":         {"OBJECTIVE", "PROBLEM", "DECISION", "KPI"},
	"recommendations": {"DECISION", "MITIGATION"},
	"assumptions":     {"ROI_ASSUMPTION", "OPEN_QUESTION", "ACCESS_CONSTRAINT"},
}

// Rank orders facts by lexical overlap with the section title and rules,
// boosted by fact kind hints and confidence. Ties keep extraction order.
func Rank(facts []domain.Fact, sectionTitle, sectionRules string) []ScoredFact {
	terms := significantTerms(sectionTitle + " " + sectionRules)
	titleWords := significantTerms(sectionTitle)

	boosted := make(map[string]bool)
	for word := range titleWords {
		for _, factType := range sectionTypeHints[word] {
			boosted[factType] = true
		}
	}

	scored := make([]ScoredFact, 0, len(facts))
	for _, fact := range facts {
		score := float64(fact.Confidence.Rank())
		for word := range significantTerms(fact.Value) {
			if titleWords[word] {
				score += 3
			} else if terms[word] {
				score++
			}
		}
		if boosted[fact.Type] {
			score += 4
		}
		scored = append(scored, ScoredFact{Fact: fact, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "are": true, "was": true, "will": true, "must": true,
	"not": true, "only": true, "any": true, "all": true, "its": true, "their": true,
	"section": true, "write": true, "include": true, "use": true, "should": true,
}

func significantTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(word) < 3 || stopWords[word] {
			continue
		}
		terms[word] = true
	}
	return terms
}
