package ai

import "strings"

type TaskKind string

const (
	TaskFilter   TaskKind = "filter"
	TaskDraft    TaskKind = "draft"
	TaskFinalise TaskKind = "finalise"
	TaskRefine   TaskKind = "refine"
	TaskFacts    TaskKind = "facts"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
	JSON            bool
}

type ModelRouterConfig struct {
	Model         string
	FallbackModel string
	// Overrides replaces the model for individual tasks.
	Overrides map[TaskKind]string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "gemini-2.0-flash"
	}
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	profile := ModelProfile{
		PrimaryModel:  r.config.Model,
		FallbackModel: strings.TrimSpace(r.config.FallbackModel),
	}
	if override := strings.TrimSpace(r.config.Overrides[task]); override != "" {
		profile.PrimaryModel = override
	}

	switch task {
	case TaskFilter:
		profile.Temperature = 0.0
		profile.MaxOutputTokens = 4096
	case TaskDraft:
		profile.Temperature = 0.3
		profile.MaxOutputTokens = 4096
	case TaskFinalise:
		profile.Temperature = 0.2
		profile.MaxOutputTokens = 4096
	case TaskRefine:
		profile.Temperature = 0.3
		profile.MaxOutputTokens = 4096
	case TaskFacts:
		profile.Temperature = 0.2
		profile.MaxOutputTokens = 8192
		profile.JSON = true
	default:
		profile.Temperature = 0.3
		profile.MaxOutputTokens = 2048
	}
	return profile
}
