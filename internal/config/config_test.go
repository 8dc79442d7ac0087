package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ELDRITCH_PROVIDER", "ELDRITCH_MODEL", "OLLAMA_HOST", "OPENAI_API_KEY", "GEMINI_API_KEY", "ELDRITCH_DB", "ELDRITCH_API_ADDR", "ELDRITCH_DEBUG"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "eldritch" {
		t.Errorf("expected Name=eldritch, got %s", cfg.Name)
	}
	if cfg.Memory.Capacity != 1000 {
		t.Errorf("expected Capacity=1000, got %d", cfg.Memory.Capacity)
	}
	if cfg.Health.Window != 10 {
		t.Errorf("expected Window=10, got %d", cfg.Health.Window)
	}
	if cfg.Choices.Cap != 5 {
		t.Errorf("expected Cap=5, got %d", cfg.Choices.Cap)
	}
	require.NoError(t, cfg.Validate())

	tt := cfg.TierTimeouts()
	assert.Equal(t, 15*time.Second, tt.AI)
	assert.Equal(t, time.Second, tt.Cache)
	assert.Equal(t, 5*time.Minute, cfg.GetCacheTTL())
	assert.Equal(t, 10*time.Second, cfg.GetSlowThreshold())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Memory.Capacity = 42
	cfg.Agents.Primary.Provider = "openai"
	cfg.Agents.Primary.BaseURL = "https://api.example.com/v1"
	cfg.Agents.Primary.APIKey = "sk-test"
	cfg.Fallback.DisabledTiers = []string{"cache"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Memory.Capacity)
	assert.Equal(t, "openai", loaded.Agents.Primary.Provider)
	assert.Equal(t, "sk-test", loaded.Agents.Primary.APIKey)
	assert.True(t, loaded.IsTierDisabled("cache"))
	assert.False(t, loaded.IsTierDisabled("ai"))
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Memory, cfg.Memory)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("health:\n  window: 20\nfallback:\n  ai_timeout: 3s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Health.Window)
	assert.Equal(t, 3*time.Second, cfg.TierTimeouts().AI)
	assert.Equal(t, 1000, cfg.Memory.Capacity)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("health: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Run("OLLAMA_HOST applies to ollama provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OLLAMA_HOST", "gpu-box:11434")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "http://gpu-box:11434", cfg.Agents.Primary.BaseURL)
	})

	t.Run("provider switch then key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ELDRITCH_PROVIDER", "gemini")
		t.Setenv("GEMINI_API_KEY", "g-key")
		t.Setenv("OPENAI_API_KEY", "oa-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "gemini", cfg.Agents.Primary.Provider)
		assert.Equal(t, "g-key", cfg.Agents.Primary.APIKey)
	})

	t.Run("debug and paths", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ELDRITCH_DEBUG", "true")
		t.Setenv("ELDRITCH_DB", "/tmp/x.db")
		t.Setenv("ELDRITCH_API_ADDR", ":9000")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.True(t, cfg.Logging.DebugMode)
		assert.Equal(t, "/tmp/x.db", cfg.Memory.DatabasePath)
		assert.Equal(t, ":9000", cfg.API.Addr)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Memory.Capacity = 0 }},
		{"bad driver", func(c *Config) { c.Memory.Driver = "postgres" }},
		{"tiny window", func(c *Config) { c.Health.Window = 2 }},
		{"zero cap", func(c *Config) { c.Choices.Cap = 0 }},
		{"bad tension", func(c *Config) { c.Reasoning.TensionThreshold = "spooky" }},
		{"bad tier", func(c *Config) { c.Fallback.DisabledTiers = []string{"emergency"} }},
		{"bad duration", func(c *Config) { c.Fallback.AITimeout = "soon" }},
		{"negative duration", func(c *Config) { c.Fallback.CacheTTL = "-1m" }},
		{"bad provider", func(c *Config) { c.Agents.Primary.Provider = "carrier-pigeon" }},
		{"openai without key", func(c *Config) { c.Agents.Primary.Provider = "openai" }},
		{"bad specialist", func(c *Config) {
			c.Agents.Specialists = map[string]AgentConfig{"rules": {Provider: "gemini"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsTierDisabled_EmergencyNeverDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fallback.DisabledTiers = []string{"AI", " template ", "emergency"}
	assert.True(t, cfg.IsTierDisabled("ai"))
	assert.True(t, cfg.IsTierDisabled("template"))
	assert.False(t, cfg.IsTierDisabled("emergency"))
}

func TestAgentsConfig_SpecialistFallsBackToPrimary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents.Specialists = map[string]AgentConfig{
		"rules": {Provider: "scripted"},
	}
	assert.Equal(t, "scripted", cfg.Agents.Specialist("rules").Provider)
	assert.Equal(t, cfg.Agents.Primary, cfg.Agents.Specialist("narrative"))
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{}
	assert.False(t, lc.IsCategoryEnabled("fallback"))

	lc.DebugMode = true
	assert.True(t, lc.IsCategoryEnabled("fallback"))

	lc.Categories = map[string]bool{"fallback": false}
	assert.False(t, lc.IsCategoryEnabled("fallback"))
	assert.True(t, lc.IsCategoryEnabled("health"))
}

func TestWatcher_ReloadsValidRevisions(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	w, err := NewWatcher(path)
	require.NoError(t, err)

	got := make(chan *Config, 4)
	w.OnChange(func(c *Config) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Invalid revision is ignored
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  capacity: -1\n"), 0644))
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 0, w.Reloads())

	cfg := DefaultConfig()
	cfg.Choices.Cap = 3
	require.NoError(t, cfg.Save(path))

	select {
	case c := <-got:
		assert.Equal(t, 3, c.Choices.Cap)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
