package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eldritch/internal/logging"

	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	id     string
	model  string
	client *genai.Client
	config *genai.GenerateContentConfig
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	ID          string
	APIKey      string
	BaseURL     string // optional endpoint override
	Model       string
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
	Seed        int
}

// NewGeminiClient creates a Gemini client. No request is made until Invoke.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if config.ID == "" {
		config.ID = "gemini"
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	gen := &genai.GenerateContentConfig{}
	if config.Temperature > 0 {
		gen.Temperature = genai.Ptr(float32(config.Temperature))
	}
	if config.TopP > 0 {
		gen.TopP = genai.Ptr(float32(config.TopP))
	}
	if config.TopK > 0 {
		gen.TopK = genai.Ptr(float32(config.TopK))
	}
	if config.MaxTokens > 0 {
		gen.MaxOutputTokens = int32(config.MaxTokens)
	}
	if config.Seed != 0 {
		gen.Seed = genai.Ptr(int32(config.Seed))
	}

	return &GeminiClient{
		id:     config.ID,
		model:  config.Model,
		client: client,
		config: gen,
	}, nil
}

// ID returns the agent identifier.
func (c *GeminiClient) ID() string { return c.id }

// Invoke generates content for the prompt.
func (c *GeminiClient) Invoke(ctx context.Context, p Prompt) (string, error) {
	cfg := *c.config
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	logging.AgentDebug("[%s] generate model=%s", c.id, c.model)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(p.User), &cfg)
	if err != nil {
		logging.AgentError("[%s] generate failed: %v", c.id, err)
		return "", convertGenAIError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// convertGenAIError maps SDK API errors onto StatusError so Classify sees
// the HTTP status.
func convertGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: %w", &StatusError{Code: apiErr.Code, Body: apiErr.Message})
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
