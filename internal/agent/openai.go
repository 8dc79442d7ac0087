package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"eldritch/internal/logging"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// It does not retry; the fallback pipeline decides what happens next.
type OpenAIClient struct {
	id          string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	topP        float64
	maxTokens   int
	seed        int
	spacing     time.Duration
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	ID             string
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	Temperature    float64
	TopP           float64
	MaxTokens      int
	Seed           int
	RequestSpacing time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		ID:          "openai",
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     60 * time.Second,
		Temperature: 0.8,
		MaxTokens:   1024,
	}
}

// NewOpenAIClient creates a client with custom config.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.ID == "" {
		config.ID = "openai"
	}
	return &OpenAIClient{
		id:          config.ID,
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		topP:        config.TopP,
		maxTokens:   config.MaxTokens,
		seed:        config.Seed,
		spacing:     config.RequestSpacing,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Seed        int             `json:"seed,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// ID returns the agent identifier.
func (c *OpenAIClient) ID() string { return c.id }

// wait enforces the minimum spacing between requests without outliving ctx.
func (c *OpenAIClient) wait(ctx context.Context) error {
	if c.spacing <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := time.Since(c.lastRequest); elapsed < c.spacing {
		timer := time.NewTimer(c.spacing - elapsed)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// Invoke sends one chat completion request.
func (c *OpenAIClient) Invoke(ctx context.Context, p Prompt) (string, error) {
	if c.apiKey == "" {
		return "", &StatusError{Code: http.StatusUnauthorized, Body: "API key not configured"}
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	messages := make([]openAIMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: p.User})

	jsonData, err := json.Marshal(openAIRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		Seed:        c.seed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logging.AgentDebug("[%s] chat completion model=%s", c.id, c.model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.AgentError("[%s] request failed: %v", c.id, err)
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.AgentError("[%s] status %d", c.id, resp.StatusCode)
		return "", &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("API error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Probe lists models, which is cheap and authenticated.
func (c *OpenAIClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
