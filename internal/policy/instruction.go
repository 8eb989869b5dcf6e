package policy

import (
	"regexp"
	"strings"
)

var factsPattern = regexp.MustCompile(`(?i)\b(facts?|transcripts?|evidence|sources?|call notes|discovery notes)\b`)

var factsPhrases = []string{
	"align with",
	"based on the discussion",
	"what the client said",
	"what was discussed",
	"fact-check",
	"verify against",
	"cross-check",
}

// RequestsFacts reports whether a refine instruction asks for alignment with
// extracted facts or transcripts. Facts are withheld from the model otherwise.
func RequestsFacts(instruction string) bool {
	if factsPattern.MatchString(instruction) {
		return true
	}
	lowered := strings.ToLower(instruction)
	for _, phrase := range factsPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
