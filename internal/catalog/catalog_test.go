package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogAcceptsEveryCanonicalPair(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{ReportFeasibility, ReportTechnicalScope, ReportCommercialProposal}, c.ReportTypes())

	for _, reportType := range c.ReportTypes() {
		report, err := c.Report(reportType)
		require.NoError(t, err)
		for _, section := range report.Sections {
			found, err := c.Lookup(reportType, section.Title)
			require.NoError(t, err, "%s / %s", reportType, section.Title)
			assert.NotEmpty(t, found.Key)
			assert.NotEmpty(t, found.Rules)
		}
	}

	feasibility, _ := c.Report(ReportFeasibility)
	technical, _ := c.Report(ReportTechnicalScope)
	assert.Len(t, feasibility.Sections, 12)
	assert.Len(t, technical.Sections, 12)
}

func TestLookupRejectsUnknownCombinations(t *testing.T) {
	c := Default()

	tests := []struct {
		name       string
		reportType string
		title      string
		want       error
	}{
		{"section of another report", ReportTechnicalScope, "Cost-Benefit Analysis", ErrInvalidSection},
		{"case differs", ReportTechnicalScope, "technology stack", ErrInvalidSection},
		{"empty commercial proposal", ReportCommercialProposal, "Executive Summary", ErrInvalidSection},
		{"unknown report", "feasibility-report", "Executive Summary", ErrUnknownReportType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Lookup(tt.reportType, tt.title)
			if !errors.Is(err, tt.want) {
				t.Errorf("Lookup(%q, %q) error = %v, want %v", tt.reportType, tt.title, err, tt.want)
			}
		})
	}
}

func TestLoadOverridesEmbeddedCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
reports:
  - type: Commercial_proposal
    sections:
      - title: Pricing
        rules: Describe the pricing model.
      - title: Terms & Conditions
        key: terms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	section, err := c.Lookup(ReportCommercialProposal, "Pricing")
	require.NoError(t, err)
	assert.Equal(t, "pricing", section.Key)

	terms, err := c.Lookup(ReportCommercialProposal, "Terms & Conditions")
	require.NoError(t, err)
	assert.Equal(t, "terms", terms.Key)
	assert.Equal(t, 1, c.Position(ReportCommercialProposal, "Terms & Conditions"))

	_, err = c.Lookup(ReportTechnicalScope, "Technology Stack")
	assert.ErrorIs(t, err, ErrUnknownReportType)
}

func TestParseRejectsDuplicateSections(t *testing.T) {
	_, err := Parse([]byte(`
reports:
  - type: Technical_scope
    sections:
      - title: Technology Stack
      - title: Technology Stack
`))
	require.Error(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "security-compliance", Slug("Security & Compliance"))
	assert.Equal(t, "cost-benefit-analysis", Slug("Cost-Benefit Analysis"))
}
