package agent

import (
	"context"
	"fmt"

	"eldritch/internal/config"
	"eldritch/internal/logging"
)

// New builds a metered agent for one configured endpoint.
func New(ctx context.Context, id string, cfg config.AgentConfig) (Agent, error) {
	var a Agent
	switch cfg.Provider {
	case "ollama":
		a = NewOllamaClient(OllamaConfig{
			ID:            id,
			BaseURL:       cfg.BaseURL,
			Model:         cfg.Model,
			Timeout:       cfg.GetTimeout(),
			Temperature:   cfg.Temperature,
			TopP:          cfg.TopP,
			TopK:          cfg.TopK,
			RepeatPenalty: cfg.RepeatPenalty,
			MaxTokens:     cfg.MaxTokens,
			Seed:          cfg.Seed,
		})
	case "openai":
		a = NewOpenAIClient(OpenAIConfig{
			ID:             id,
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Timeout:        cfg.GetTimeout(),
			Temperature:    cfg.Temperature,
			TopP:           cfg.TopP,
			MaxTokens:      cfg.MaxTokens,
			Seed:           cfg.Seed,
			RequestSpacing: cfg.GetRequestSpacing(),
		})
	case "gemini":
		g, err := NewGeminiClient(ctx, GeminiConfig{
			ID:          id,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			TopK:        cfg.TopK,
			MaxTokens:   cfg.MaxTokens,
			Seed:        cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
		a = g
	case "scripted":
		a = NewScripted(id)
	default:
		return nil, fmt.Errorf("unknown agent provider: %s", cfg.Provider)
	}

	logging.Agent("Agent %s: provider=%s model=%s", id, cfg.Provider, cfg.Model)
	return Meter(a), nil
}

// NewSpecialists builds one agent per specialty. Specialties without their
// own endpoint share the primary endpoint settings under their own ID.
func NewSpecialists(ctx context.Context, names []string, cfg config.AgentsConfig) (map[string]Agent, error) {
	out := make(map[string]Agent, len(names))
	for _, name := range names {
		a, err := New(ctx, name, cfg.Specialist(name))
		if err != nil {
			return nil, fmt.Errorf("specialist %s: %w", name, err)
		}
		out[name] = a
	}
	return out, nil
}
