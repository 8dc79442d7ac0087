package config

import (
	"fmt"
	"time"
)

// AgentsConfig configures the primary agent and the deep reasoning specialists.
type AgentsConfig struct {
	Primary AgentConfig `yaml:"primary"`

	// Keyed by specialty (narrative, character_psychology, continuity, rules).
	// Specialties without an entry reuse the primary endpoint.
	Specialists map[string]AgentConfig `yaml:"specialists"`
}

// AgentConfig configures one generative agent endpoint.
type AgentConfig struct {
	Provider string `yaml:"provider"` // ollama, openai, gemini, scripted
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"` // HTTP client ceiling; tier budgets are usually shorter

	// Sampling
	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	TopK          int     `yaml:"top_k"`
	RepeatPenalty float64 `yaml:"repeat_penalty"`
	MaxTokens     int     `yaml:"max_tokens"`
	Seed          int     `yaml:"seed"`

	// Minimum spacing between requests (rate limiting)
	RequestSpacing string `yaml:"request_spacing"`
}

// DefaultAgentConfig returns a local Ollama endpoint.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Provider:      "ollama",
		BaseURL:       "http://localhost:11434",
		Model:         "llama3.1",
		Timeout:       "60s",
		Temperature:   0.8,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
		MaxTokens:     1024,
	}
}

// ValidProviders lists all supported agent providers.
var ValidProviders = []string{"ollama", "openai", "gemini", "scripted"}

// GetTimeout returns the HTTP client timeout as a duration.
func (a AgentConfig) GetTimeout() time.Duration {
	return parseDurationOr(a.Timeout, 60*time.Second)
}

// GetRequestSpacing returns the minimum gap between requests (zero = none).
func (a AgentConfig) GetRequestSpacing() time.Duration {
	d, err := time.ParseDuration(a.RequestSpacing)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate validates one agent endpoint.
func (a AgentConfig) Validate() error {
	if !contains(ValidProviders, a.Provider) {
		return fmt.Errorf("invalid provider: %s (valid: %v)", a.Provider, ValidProviders)
	}
	switch a.Provider {
	case "openai":
		if a.APIKey == "" {
			return fmt.Errorf("openai provider requires api_key (or OPENAI_API_KEY)")
		}
		if a.BaseURL == "" {
			return fmt.Errorf("openai provider requires base_url")
		}
	case "gemini":
		if a.APIKey == "" {
			return fmt.Errorf("gemini provider requires api_key (or GEMINI_API_KEY)")
		}
	case "ollama":
		if a.BaseURL == "" {
			return fmt.Errorf("ollama provider requires base_url")
		}
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("temperature must be within 0-2, got %v", a.Temperature)
	}
	return nil
}

// Specialist returns the endpoint for a specialty, falling back to the primary.
func (c AgentsConfig) Specialist(name string) AgentConfig {
	if sc, ok := c.Specialists[name]; ok {
		return sc
	}
	return c.Primary
}
