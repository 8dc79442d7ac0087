package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eldritch/internal/logging"
)

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	id         string
	baseURL    string
	model      string
	options    ollamaOptions
	httpClient *http.Client
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	ID            string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	MaxTokens     int
	Seed          int
}

// DefaultOllamaConfig returns sensible defaults for a local server.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		ID:            "ollama",
		BaseURL:       "http://localhost:11434",
		Model:         "llama3.1",
		Timeout:       60 * time.Second,
		Temperature:   0.8,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
		MaxTokens:     1024,
	}
}

// NewOllamaClient creates an Ollama client.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.ID == "" {
		config.ID = "ollama"
	}
	return &OllamaClient{
		id:      config.ID,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		model:   config.Model,
		options: ollamaOptions{
			Temperature:   config.Temperature,
			TopP:          config.TopP,
			TopK:          config.TopK,
			RepeatPenalty: config.RepeatPenalty,
			NumPredict:    config.MaxTokens,
			Seed:          config.Seed,
		},
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type ollamaOptions struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	NumPredict    int     `json:"num_predict"`
	Seed          int     `json:"seed,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// ID returns the agent identifier.
func (c *OllamaClient) ID() string { return c.id }

// Invoke sends one non-streaming generate request.
func (c *OllamaClient) Invoke(ctx context.Context, p Prompt) (string, error) {
	reqBody := ollamaRequest{
		Model:   c.model,
		Prompt:  p.User,
		System:  p.System,
		Stream:  false,
		Options: c.options,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logging.AgentDebug("[%s] generate model=%s prompt_len=%d", c.id, c.model, len(p.User))

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

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}

	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Probe checks that the server answers the model listing.
func (c *OllamaClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
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
