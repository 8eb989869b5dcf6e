package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiClientConfig struct {
	APIKey  string
	Timeout time.Duration
}

type GeminiClient struct {
	client  *genai.Client
	timeout time.Duration
}

func NewGeminiClient(ctx context.Context, config GeminiClientConfig) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, ErrProviderUnavailable
	}
	if config.Timeout <= 0 {
		config.Timeout = 90 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, timeout: config.Timeout}, nil
}

func (c *GeminiClient) Available() bool {
	return c != nil && c.client != nil
}

func (c *GeminiClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *GeminiClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.client.GenerativeModel(request.Model)
	model.SetTemperature(float32(request.Temperature))
	if request.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(request.MaxOutputTokens))
	}
	if strings.TrimSpace(request.Instructions) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(request.Instructions))
	}
	if request.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(timeoutCtx, genai.Text(request.Input))
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("gemini timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("gemini generate: %w", err)
	}

	text, err := geminiText(resp)
	if err != nil {
		return GenerateResult{}, err
	}

	result := GenerateResult{Text: text, ModelID: request.Model}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini response without candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("gemini response without content")
	}

	parts := make([]string, 0, len(candidate.Content.Parts))
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", errors.New("gemini response without text output")
	}
	return text, nil
}
