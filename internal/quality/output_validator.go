package quality

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/iago/section-writer-back/internal/ai"
	"github.com/iago/section-writer-back/internal/policy"
)

var ErrQualityRejected = errors.New("output failed quality checks")

const DefaultMaxSectionLength = 60000

// SectionResult is the cleaned section plus what was changed on the way.
type SectionResult struct {
	Content    string
	Corrected  bool
	Violations []policy.Violation
}

type OutputValidator struct {
	maxLength int
}

func NewOutputValidator(maxLength int) *OutputValidator {
	if maxLength <= 0 {
		maxLength = DefaultMaxSectionLength
	}
	return &OutputValidator{maxLength: maxLength}
}

var leadingHeading = regexp.MustCompile(`^#{1,6}\s+`)

// ValidateSection strips wrappers the model sometimes adds, masks contact
// details and rejects empty output. title drops a repeated section heading.
func (v *OutputValidator) ValidateSection(title, raw string) (SectionResult, error) {
	content := normalizeText(ai.StripCodeFence(raw))
	corrected := content != strings.TrimSpace(raw)

	if stripped, ok := dropTitleHeading(content, title); ok {
		content = stripped
		corrected = true
	}
	if content == "" {
		return SectionResult{}, fmt.Errorf("%w: empty section", ErrQualityRejected)
	}

	if masked := policy.MaskPIIString(content); masked != content {
		content = masked
		corrected = true
	}
	if len(content) > v.maxLength {
		content = truncateAtWord(content, v.maxLength)
		corrected = true
	}

	return SectionResult{
		Content:    content,
		Corrected:  corrected,
		Violations: policy.CheckSection(content),
	}, nil
}

// normalizeText trims trailing spaces per line and collapses runs of blank
// lines, keeping Markdown structure.
func normalizeText(value string) string {
	lines := strings.Split(strings.ReplaceAll(value, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func dropTitleHeading(content, title string) (string, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return content, false
	}
	first, rest, _ := strings.Cut(content, "\n")
	heading := strings.TrimSpace(leadingHeading.ReplaceAllString(first, ""))
	heading = strings.Trim(heading, "*_ ")
	if !leadingHeading.MatchString(first) || !strings.EqualFold(heading, title) {
		return content, false
	}
	return strings.TrimSpace(rest), true
}

func truncateAtWord(value string, maxLen int) string {
	if len(value) <= maxLen || maxLen <= 0 {
		return value
	}
	cut := value[:maxLen]
	lastSpace := strings.LastIndexAny(cut, " \n")
	if lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return strings.TrimSpace(cut)
}
