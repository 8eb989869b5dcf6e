package service

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/iago/section-writer-back/internal/ai"
	"github.com/iago/section-writer-back/internal/catalog"
	"github.com/iago/section-writer-back/internal/domain"
	"github.com/iago/section-writer-back/internal/facts"
	"github.com/iago/section-writer-back/internal/logger"
	"github.com/iago/section-writer-back/internal/policy"
	"github.com/iago/section-writer-back/internal/quality"
)

//go:embed prompts/*.tmpl
var embeddedPrompts embed.FS

const (
	promptFilter   = "filter.tmpl"
	promptDraft    = "draft.tmpl"
	promptFinalise = "finalise.tmpl"
	promptRefine   = "refine.tmpl"

	sectionInstructions = "You write and edit sections of consulting reports. Return only section content in Markdown."

	// Used for titles the catalog does not define.
	fallbackRules = "Write only content explicitly relevant to the section title. " +
		"Use only facts present in the provided context. " +
		"Do not introduce recommendations, solutions, timelines, or content from other sections."
)

type SectionWriterDeps struct {
	Client    ai.TextGenerator
	Router    *ai.ModelRouter
	Catalog   *catalog.Catalog
	Validator *quality.OutputValidator
	// PromptsDir holds template overrides; missing files fall back to the
	// embedded prompts.
	PromptsDir string
	// FactBudget caps the estimated tokens of facts rendered into a prompt.
	FactBudget int
	Logger     *logger.Logger
}

// SectionWriter turns session state into section text through the model.
type SectionWriter struct {
	client     ai.TextGenerator
	router     *ai.ModelRouter
	catalog    *catalog.Catalog
	validator  *quality.OutputValidator
	promptsDir string
	factBudget int
	log        *logger.Logger

	tmplMu    sync.RWMutex
	templates map[string]*template.Template
}

type GenerateInput struct {
	ReportType   string
	SectionTitle string
	Facts        []domain.Fact
	// Sections is the reconciled snapshot, including the target if it exists.
	Sections map[string]domain.SectionRecord
}

type RefineInput struct {
	ReportType   string
	SectionTitle string
	OriginalText string
	Instruction  string
	Facts        []domain.Fact
}

type WriteResult struct {
	Content string
	ModelID string
}

func NewSectionWriter(deps SectionWriterDeps) *SectionWriter {
	if deps.Router == nil {
		deps.Router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = quality.NewOutputValidator(0)
	}
	if deps.FactBudget <= 0 {
		deps.FactBudget = facts.DefaultRenderBudget
	}
	return &SectionWriter{
		client:     deps.Client,
		router:     deps.Router,
		catalog:    deps.Catalog,
		validator:  deps.Validator,
		promptsDir: strings.TrimSpace(deps.PromptsDir),
		factBudget: deps.FactBudget,
		log:        logger.OrDiscard(deps.Logger).WithComponent("section_writer"),
		templates:  make(map[string]*template.Template),
	}
}

// Generate filters facts for the section, drafts it against the prior
// sections and runs an editor pass before validating the output.
func (w *SectionWriter) Generate(ctx context.Context, input GenerateInput) (WriteResult, error) {
	started := time.Now()
	rules := w.sectionRules(input.ReportType, input.SectionTitle)

	rendered := facts.Render(facts.Rank(input.Facts, input.SectionTitle, rules), w.factBudget)
	factsText := rendered.Text
	if factsText != "" {
		filtered, err := w.call(ctx, ai.TaskFilter, promptFilter, map[string]any{
			"SectionTitle": input.SectionTitle,
			"Rules":        rules,
			"Facts":        factsText,
		})
		if err != nil {
			return WriteResult{}, fmt.Errorf("filter facts: %w", err)
		}
		// An empty filter result keeps the ranked facts rather than starving
		// the draft.
		if text := strings.TrimSpace(ai.StripCodeFence(filtered.Text)); text != "" {
			factsText = text
		}
	}

	existing := ""
	if record, ok := input.Sections[input.SectionTitle]; ok {
		existing = strings.TrimSpace(record.Content)
	}
	draft, err := w.call(ctx, ai.TaskDraft, promptDraft, map[string]any{
		"ReportType":      input.ReportType,
		"SectionTitle":    input.SectionTitle,
		"Rules":           rules,
		"Facts":           factsText,
		"PriorSections":   w.priorSections(input.ReportType, input.SectionTitle, input.Sections),
		"ExistingContent": existing,
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("draft section: %w", err)
	}

	final, err := w.call(ctx, ai.TaskFinalise, promptFinalise, map[string]any{
		"SectionTitle": input.SectionTitle,
		"Rules":        rules,
		"Draft":        draft.Text,
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("finalise section: %w", err)
	}

	content, err := w.validate(input.SectionTitle, final.Text)
	if err != nil {
		return WriteResult{}, err
	}
	w.log.WithFields(logger.Fields{
		"section_title":        input.SectionTitle,
		"facts_used":           len(rendered.Facts),
		"model_id":             final.ModelID,
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
	}).Info("section generated")
	return WriteResult{Content: content, ModelID: final.ModelID}, nil
}

// Refine edits OriginalText following the instruction. Facts reach the model
// only when the instruction asks for alignment with them.
func (w *SectionWriter) Refine(ctx context.Context, input RefineInput) (WriteResult, error) {
	started := time.Now()
	factsText := ""
	if policy.RequestsFacts(input.Instruction) && len(input.Facts) > 0 {
		rules := w.sectionRules(input.ReportType, input.SectionTitle)
		factsText = facts.Render(facts.Rank(input.Facts, input.SectionTitle, rules), w.factBudget).Text
	}

	refined, err := w.call(ctx, ai.TaskRefine, promptRefine, map[string]any{
		"ReportType":   input.ReportType,
		"SectionTitle": input.SectionTitle,
		"Instruction":  input.Instruction,
		"OriginalText": input.OriginalText,
		"Facts":        factsText,
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("refine section: %w", err)
	}

	content, err := w.validate(input.SectionTitle, refined.Text)
	if err != nil {
		return WriteResult{}, err
	}
	w.log.WithFields(logger.Fields{
		"section_title":        input.SectionTitle,
		"with_facts":           factsText != "",
		"model_id":             refined.ModelID,
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
	}).Info("section refined")
	return WriteResult{Content: content, ModelID: refined.ModelID}, nil
}

func (w *SectionWriter) call(ctx context.Context, task ai.TaskKind, promptFile string, data any) (ai.GenerateResult, error) {
	prompt, err := w.renderPrompt(promptFile, data)
	if err != nil {
		return ai.GenerateResult{}, err
	}
	result, err := ai.GenerateWithFallback(ctx, w.client, w.router.Select(task), sectionInstructions, prompt)
	if err != nil {
		return ai.GenerateResult{}, domain.WrapError(domain.ErrCodeModelError, err)
	}
	return result, nil
}

func (w *SectionWriter) validate(title, text string) (string, error) {
	result, err := w.validator.ValidateSection(title, text)
	if err != nil {
		return "", domain.WrapError(domain.ErrCodeModelError, err)
	}
	if len(result.Violations) > 0 {
		w.log.WithFields(logger.Fields{
			"section_title": title,
			"violations":    result.Violations,
		}).Warn("section breaks narrative rules")
	}
	return result.Content, nil
}

func (w *SectionWriter) sectionRules(reportType, title string) string {
	section, err := w.catalog.Lookup(reportType, title)
	if err != nil || section.Rules == "" {
		return fallbackRules
	}
	return section.Rules
}

// priorSections renders cached sections other than the target, canonical
// ones in catalog order first.
func (w *SectionWriter) priorSections(reportType, target string, sections map[string]domain.SectionRecord) string {
	if len(sections) == 0 {
		return ""
	}
	ordered := make([]string, 0, len(sections))
	seen := make(map[string]bool, len(sections))
	if report, err := w.catalog.Report(reportType); err == nil {
		for _, section := range report.Sections {
			if _, ok := sections[section.Title]; ok {
				ordered = append(ordered, section.Title)
				seen[section.Title] = true
			}
		}
	}
	extra := make([]string, 0)
	for title := range sections {
		if !seen[title] {
			extra = append(extra, title)
		}
	}
	sort.Strings(extra)
	ordered = append(ordered, extra...)

	var b strings.Builder
	for _, title := range ordered {
		content := strings.TrimSpace(sections[title].Content)
		if title == target || content == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", title, content)
	}
	return strings.TrimSpace(b.String())
}

func (w *SectionWriter) renderPrompt(fileName string, data any) (string, error) {
	tmpl, err := w.loadTemplate(fileName)
	if err != nil {
		return "", err
	}

	buffer := bytes.NewBuffer(nil)
	if err := tmpl.Execute(buffer, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", fileName, err)
	}
	return strings.TrimSpace(buffer.String()), nil
}

func (w *SectionWriter) loadTemplate(fileName string) (*template.Template, error) {
	w.tmplMu.RLock()
	if tmpl, ok := w.templates[fileName]; ok {
		w.tmplMu.RUnlock()
		return tmpl, nil
	}
	w.tmplMu.RUnlock()

	content, err := w.readTemplate(fileName)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(fileName).Option("missingkey=zero").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", fileName, err)
	}

	w.tmplMu.Lock()
	w.templates[fileName] = tmpl
	w.tmplMu.Unlock()

	return tmpl, nil
}

func (w *SectionWriter) readTemplate(fileName string) ([]byte, error) {
	if w.promptsDir != "" {
		override := filepath.Join(w.promptsDir, fileName)
		content, err := os.ReadFile(override)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read prompt template %s: %w", override, err)
		}
	}
	content, err := embeddedPrompts.ReadFile("prompts/" + fileName)
	if err != nil {
		return nil, fmt.Errorf("read embedded prompt %s: %w", fileName, err)
	}
	return content, nil
}
