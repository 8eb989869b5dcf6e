package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSectionStripsFenceAndHeading(t *testing.T) {
	validator := NewOutputValidator(0)
	raw := "```markdown\n## Technology Stack\n\nThe platform runs on Go.\n\n\n\nData lives in Postgres.   \n```"

	result, err := validator.ValidateSection("Technology Stack", raw)
	require.NoError(t, err)

	assert.Equal(t, "The platform runs on Go.\n\nData lives in Postgres.", result.Content)
	assert.True(t, result.Corrected)
	assert.Empty(t, result.Violations)
}

func TestValidateSectionKeepsOtherHeadings(t *testing.T) {
	validator := NewOutputValidator(0)

	result, err := validator.ValidateSection("Technology Stack", "### Backend\nGo services.")
	require.NoError(t, err)
	assert.Equal(t, "### Backend\nGo services.", result.Content)
	assert.False(t, result.Corrected)
}

func TestValidateSectionMasksPII(t *testing.T) {
	validator := NewOutputValidator(0)

	result, err := validator.ValidateSection("Appendix", "Contact ops@example.com for access.")
	require.NoError(t, err)
	assert.Equal(t, "Contact [email_redacted] for access.", result.Content)
	assert.True(t, result.Corrected)
}

func TestValidateSectionRejectsEmptyOutput(t *testing.T) {
	validator := NewOutputValidator(0)

	for _, raw := range []string{"", "   ", "```\n```", "# Appendix\n"} {
		_, err := validator.ValidateSection("Appendix", raw)
		assert.ErrorIs(t, err, ErrQualityRejected, "raw=%q", raw)
	}
}

func TestValidateSectionTruncatesAtWord(t *testing.T) {
	validator := NewOutputValidator(40)

	result, err := validator.ValidateSection("Appendix", strings.Repeat("word ", 20))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Content), 40)
	assert.False(t, strings.HasSuffix(result.Content, "wor"))
}

func TestValidateSectionReportsNarrativeViolations(t *testing.T) {
	validator := NewOutputValidator(0)

	result, err := validator.ValidateSection("Appendix", "As discussed, the client wants a lakehouse.")
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "meeting_reference", result.Violations[0].Code)
}
