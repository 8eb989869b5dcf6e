package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrProviderUnavailable = errors.New("model provider unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
	// JSON asks the provider for a JSON-only response.
	JSON bool
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

func validateRequest(request GenerateRequest) error {
	if strings.TrimSpace(request.Model) == "" {
		return errors.New("model is required")
	}
	if strings.TrimSpace(request.Input) == "" {
		return errors.New("input is required")
	}
	return nil
}

// GenerateWithFallback tries the profile's primary model, then its fallback.
func GenerateWithFallback(ctx context.Context, client TextGenerator, profile ModelProfile, instructions, input string) (GenerateResult, error) {
	if client == nil || !client.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	request := GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    instructions,
		Input:           input,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSON:            profile.JSON,
	}
	result, err := client.Generate(ctx, request)
	if err == nil {
		return result, nil
	}
	fallback := strings.TrimSpace(profile.FallbackModel)
	if fallback == "" || fallback == profile.PrimaryModel || ctx.Err() != nil {
		return GenerateResult{}, err
	}
	request.Model = fallback
	result, fallbackErr := client.Generate(ctx, request)
	if fallbackErr != nil {
		return GenerateResult{}, fmt.Errorf("primary model failed: %v; fallback model failed: %w", err, fallbackErr)
	}
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type providerHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func truncate(message string, limit int) string {
	message = strings.TrimSpace(message)
	if len(message) > limit {
		return message[:limit]
	}
	return message
}
