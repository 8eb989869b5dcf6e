// Package catalog holds the closed set of report types and the canonical,
// ordered section titles each one accepts.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ReportFeasibility        = "Feasibility_report"
	ReportTechnicalScope     = "Technical_scope"
	ReportCommercialProposal = "Commercial_proposal"
)

var (
	ErrUnknownReportType = errors.New("unknown report type")
	ErrInvalidSection    = errors.New("section not allowed for report type")
)

//go:embed sections.yaml
var defaultCatalog []byte

type Section struct {
	Title string `yaml:"title" json:"title"`
	Key   string `yaml:"key,omitempty" json:"key"`
	Rules string `yaml:"rules" json:"rules"`
}

type Report struct {
	Type     string    `yaml:"type" json:"type"`
	Sections []Section `yaml:"sections" json:"sections"`
}

type file struct {
	Reports []Report `yaml:"reports"`
}

type Catalog struct {
	order   []string
	reports map[string]Report
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded section catalog: %v", err))
	}
	return c
}

// Load reads a catalog file, or returns the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read section catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var decoded file
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode section catalog: %w", err)
	}

	c := &Catalog{reports: make(map[string]Report, len(decoded.Reports))}
	for _, report := range decoded.Reports {
		reportType := strings.TrimSpace(report.Type)
		if reportType == "" {
			return nil, errors.New("section catalog: report type is required")
		}
		if _, exists := c.reports[reportType]; exists {
			return nil, fmt.Errorf("section catalog: duplicate report type %s", reportType)
		}

		seen := make(map[string]struct{}, len(report.Sections))
		sections := make([]Section, 0, len(report.Sections))
		for _, section := range report.Sections {
			title := strings.TrimSpace(section.Title)
			if title == "" {
				return nil, fmt.Errorf("section catalog: empty section title in %s", reportType)
			}
			if _, dup := seen[title]; dup {
				return nil, fmt.Errorf("section catalog: duplicate section %q in %s", title, reportType)
			}
			seen[title] = struct{}{}
			if section.Key == "" {
				section.Key = Slug(title)
			}
			section.Title = title
			section.Rules = strings.TrimSpace(section.Rules)
			sections = append(sections, section)
		}

		c.order = append(c.order, reportType)
		c.reports[reportType] = Report{Type: reportType, Sections: sections}
	}
	return c, nil
}

func (c *Catalog) ReportTypes() []string {
	return append([]string(nil), c.order...)
}

func (c *Catalog) Report(reportType string) (Report, error) {
	report, ok := c.reports[reportType]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownReportType, reportType)
	}
	report.Sections = append([]Section(nil), report.Sections...)
	return report, nil
}

// Lookup matches titles exactly; the canonical list is a closed enumeration.
func (c *Catalog) Lookup(reportType, title string) (Section, error) {
	report, ok := c.reports[reportType]
	if !ok {
		return Section{}, fmt.Errorf("%w: %s", ErrUnknownReportType, reportType)
	}
	for _, section := range report.Sections {
		if section.Title == title {
			return section, nil
		}
	}
	return Section{}, fmt.Errorf("%w: %q is not a %s section", ErrInvalidSection, title, reportType)
}

// Position returns the index of title in the report order, or -1.
func (c *Catalog) Position(reportType, title string) int {
	report, ok := c.reports[reportType]
	if !ok {
		return -1
	}
	for index, section := range report.Sections {
		if section.Title == title {
			return index
		}
	}
	return -1
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func Slug(title string) string {
	lowered := strings.ToLower(strings.TrimSpace(title))
	return strings.Trim(slugPattern.ReplaceAllString(lowered, "-"), "-")
}
