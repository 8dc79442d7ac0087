package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all eldritch configuration.
type Config struct {
	Name string `yaml:"name"`

	// Per-agent memory stores and the session archive
	Memory MemoryConfig `yaml:"memory"`

	// Agent health classification
	Health HealthConfig `yaml:"health"`

	// Template generation and ranking
	Choices ChoicesConfig `yaml:"choices"`

	// Tier pipeline
	Fallback FallbackConfig `yaml:"fallback"`

	// Deep reasoning fan-out
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Generative agent endpoints
	Agents AgentsConfig `yaml:"agents"`

	// HTTP surface
	API APIConfig `yaml:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	Window        int    `yaml:"window"`         // observations kept per agent (K)
	SlowThreshold string `yaml:"slow_threshold"` // mean success latency above this is SLOW_RESPONSE
	ProbeInterval string `yaml:"probe_interval"` // min gap before probing an UNAVAILABLE agent
}

// ChoicesConfig configures the template generator and the final ranking.
type ChoicesConfig struct {
	Cap              int     `yaml:"cap"`
	TensionThreshold string  `yaml:"tension_threshold"` // tension that activates caution/escape choices
	LowSanityRatio   float64 `yaml:"low_sanity_ratio"`
	LowHealthRatio   float64 `yaml:"low_health_ratio"`
}

// FallbackConfig configures the tier pipeline.
type FallbackConfig struct {
	AITimeout     string   `yaml:"ai_timeout"`
	CacheTimeout  string   `yaml:"cache_timeout"`
	CacheTTL      string   `yaml:"cache_ttl"`
	CacheCapacity int      `yaml:"cache_capacity"`
	DisabledTiers []string `yaml:"disabled_tiers"` // ai, cache, template
}

// ReasoningConfig configures the deep reasoning coordinator.
type ReasoningConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Timeout          string   `yaml:"timeout"`
	TensionThreshold string   `yaml:"tension_threshold"`
	ThreadThreshold  int      `yaml:"thread_threshold"`
	Specialists      []string `yaml:"specialists"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "eldritch",

		Memory: MemoryConfig{
			Capacity:          1000,
			DefaultImportance: 5,
			DatabasePath:      "data/eldritch.db",
			Driver:            "sqlite",
		},

		Health: HealthConfig{
			Window:        10,
			SlowThreshold: "10s",
			ProbeInterval: "30s",
		},

		Choices: ChoicesConfig{
			Cap:              5,
			TensionThreshold: "tense",
			LowSanityRatio:   0.4,
			LowHealthRatio:   0.4,
		},

		Fallback: FallbackConfig{
			AITimeout:     "15s",
			CacheTimeout:  "1s",
			CacheTTL:      "5m",
			CacheCapacity: 50,
		},

		Reasoning: ReasoningConfig{
			Enabled:          false,
			Timeout:          "15s",
			TensionThreshold: "tense",
			ThreadThreshold:  2,
			Specialists:      []string{"narrative", "character_psychology", "continuity", "rules"},
		},

		Agents: AgentsConfig{
			Primary: DefaultAgentConfig(),
		},

		API: APIConfig{
			Addr:            "127.0.0.1:8787",
			ReadTimeout:     "10s",
			ShutdownTimeout: "5s",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			Directory: "logs",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if provider := os.Getenv("ELDRITCH_PROVIDER"); provider != "" {
		c.Agents.Primary.Provider = provider
	}
	if model := os.Getenv("ELDRITCH_MODEL"); model != "" {
		c.Agents.Primary.Model = model
	}

	// Provider-specific endpoints and keys only apply to the matching provider
	if host := os.Getenv("OLLAMA_HOST"); host != "" && c.Agents.Primary.Provider == "ollama" {
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "http://" + host
		}
		c.Agents.Primary.BaseURL = host
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Agents.Primary.Provider == "openai" {
		c.Agents.Primary.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Agents.Primary.Provider == "gemini" {
		c.Agents.Primary.APIKey = key
	}

	if path := os.Getenv("ELDRITCH_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if addr := os.Getenv("ELDRITCH_API_ADDR"); addr != "" {
		c.API.Addr = addr
	}
	if v := os.Getenv("ELDRITCH_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = debug
		}
	}
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetSlowThreshold returns the SLOW_RESPONSE latency threshold.
func (c *Config) GetSlowThreshold() time.Duration {
	return parseDurationOr(c.Health.SlowThreshold, 10*time.Second)
}

// GetProbeInterval returns the minimum gap between recovery probes.
func (c *Config) GetProbeInterval() time.Duration {
	return parseDurationOr(c.Health.ProbeInterval, 30*time.Second)
}

// GetCacheTTL returns how long successful AI results stay reusable.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDurationOr(c.Fallback.CacheTTL, 5*time.Minute)
}

// GetReasoningTimeout returns the per-call deadline for specialist agents.
func (c *Config) GetReasoningTimeout() time.Duration {
	return parseDurationOr(c.Reasoning.Timeout, 15*time.Second)
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDurationOr(c.API.ReadTimeout, 10*time.Second)
}

// GetShutdownTimeout returns the HTTP graceful shutdown budget.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDurationOr(c.API.ShutdownTimeout, 5*time.Second)
}

// IsTierDisabled reports whether a fallback tier is switched off.
// The emergency tier can never be disabled.
func (c *Config) IsTierDisabled(tier string) bool {
	if tier == "emergency" {
		return false
	}
	for _, t := range c.Fallback.DisabledTiers {
		if strings.EqualFold(strings.TrimSpace(t), tier) {
			return true
		}
	}
	return false
}

// ValidTiers lists the tiers that may appear in fallback.disabled_tiers.
var ValidTiers = []string{"ai", "cache", "template"}

// ValidTensions lists the accepted tension threshold names.
var ValidTensions = []string{"calm", "uneasy", "tense", "terrifying", "cosmic_horror"}

// ValidDrivers lists the supported archive drivers.
var ValidDrivers = []string{"sqlite", "sqlite3"}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Validate validates the configuration. Called once at startup.
func (c *Config) Validate() error {
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory.capacity must be positive, got %d", c.Memory.Capacity)
	}
	if c.Memory.DefaultImportance < 0 || c.Memory.DefaultImportance > 10 {
		return fmt.Errorf("memory.default_importance must be within 0-10, got %d", c.Memory.DefaultImportance)
	}
	if !contains(ValidDrivers, c.Memory.Driver) {
		return fmt.Errorf("invalid memory.driver: %s (valid: %v)", c.Memory.Driver, ValidDrivers)
	}
	if c.Health.Window < 3 {
		return fmt.Errorf("health.window must be at least 3, got %d", c.Health.Window)
	}
	if c.Choices.Cap < 1 {
		return fmt.Errorf("choices.cap must be at least 1, got %d", c.Choices.Cap)
	}
	if c.Choices.LowSanityRatio < 0 || c.Choices.LowSanityRatio > 1 {
		return fmt.Errorf("choices.low_sanity_ratio must be within 0-1")
	}
	if c.Choices.LowHealthRatio < 0 || c.Choices.LowHealthRatio > 1 {
		return fmt.Errorf("choices.low_health_ratio must be within 0-1")
	}
	if !contains(ValidTensions, c.Choices.TensionThreshold) {
		return fmt.Errorf("invalid choices.tension_threshold: %s (valid: %v)", c.Choices.TensionThreshold, ValidTensions)
	}
	if !contains(ValidTensions, c.Reasoning.TensionThreshold) {
		return fmt.Errorf("invalid reasoning.tension_threshold: %s (valid: %v)", c.Reasoning.TensionThreshold, ValidTensions)
	}
	if c.Fallback.CacheCapacity < 1 {
		return fmt.Errorf("fallback.cache_capacity must be at least 1, got %d", c.Fallback.CacheCapacity)
	}
	for _, t := range c.Fallback.DisabledTiers {
		if !contains(ValidTiers, strings.ToLower(strings.TrimSpace(t))) {
			return fmt.Errorf("invalid fallback.disabled_tiers entry: %s (valid: %v)", t, ValidTiers)
		}
	}

	durations := map[string]string{
		"health.slow_threshold":  c.Health.SlowThreshold,
		"health.probe_interval":  c.Health.ProbeInterval,
		"fallback.ai_timeout":    c.Fallback.AITimeout,
		"fallback.cache_timeout": c.Fallback.CacheTimeout,
		"fallback.cache_ttl":     c.Fallback.CacheTTL,
		"reasoning.timeout":      c.Reasoning.Timeout,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q", field, v)
		}
	}

	if err := c.Agents.Primary.Validate(); err != nil {
		return fmt.Errorf("agents.primary: %w", err)
	}
	for name, sc := range c.Agents.Specialists {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("agents.specialists.%s: %w", name, err)
		}
	}

	return nil
}
