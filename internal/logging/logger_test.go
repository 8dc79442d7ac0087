package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLogging(t *testing.T) {
	t.Helper()
	CloseAll()
	CloseAudit()
	configMu.Lock()
	config = Options{}
	logsDir = ""
	configMu.Unlock()
	auditLogger = nil
}

func readLogs(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", e.Name(), err)
		}
		out[e.Name()] = string(data)
	}
	return out
}

func findLog(logs map[string]string, suffix string) (string, bool) {
	for name, content := range logs {
		if strings.HasSuffix(name, suffix) {
			return content, true
		}
	}
	return "", false
}

// TestAllCategoriesLog tests that all categories create log files when debug mode is on
func TestAllCategoriesLog(t *testing.T) {
	resetLogging(t)
	defer resetLogging(t)

	dir := filepath.Join(t.TempDir(), "logs")
	if err := Initialize(dir, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryConfig, CategoryPerformance, CategoryMemory,
		CategoryHealth, CategoryChoices, CategoryFallback, CategoryReasoning,
		CategoryAgent, CategoryAPI, CategoryStore,
	}
	for _, cat := range categories {
		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	Fallback("Convenience fallback log")
	FallbackDebug("Cache miss for %s", "study|uneasy")
	HealthWarn("Convenience health warning")
	BootWarn("Deep reasoning enabled but no specialists configured")
	Choices("Parsed %d choices from %s", 3, "primary")
	ReasoningDebug("Dispatching %s with %d memories", "rules", 2)

	CloseAll()

	logs := readLogs(t, dir)
	for _, cat := range categories {
		content, ok := findLog(logs, "_"+string(cat)+".log")
		if !ok {
			t.Errorf("No log file found for category: %s", cat)
			continue
		}
		if !strings.Contains(content, "Test info message for "+string(cat)) {
			t.Errorf("Log file for %s missing info line: %q", cat, content)
		}
	}

	fallbackLog, _ := findLog(logs, "_fallback.log")
	if !strings.Contains(fallbackLog, "Convenience fallback log") {
		t.Errorf("fallback log missing convenience line: %q", fallbackLog)
	}
	wrapped := map[string]string{
		"_fallback.log":  "Cache miss for study|uneasy",
		"_boot.log":      "no specialists configured",
		"_choices.log":   "Parsed 3 choices from primary",
		"_reasoning.log": "Dispatching rules with 2 memories",
	}
	for suffix, line := range wrapped {
		content, _ := findLog(logs, suffix)
		if !strings.Contains(content, line) {
			t.Errorf("%s missing %q: %q", suffix, line, content)
		}
	}
}

// TestDebugModeDisabled tests that no logs are created when debug mode is off
func TestDebugModeDisabled(t *testing.T) {
	resetLogging(t)
	defer resetLogging(t)

	dir := filepath.Join(t.TempDir(), "logs")
	if err := Initialize(dir, Options{DebugMode: false, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if IsDebugMode() {
		t.Error("Expected debug mode to be DISABLED")
	}
	if IsCategoryEnabled(CategoryBoot) {
		t.Error("Categories should be disabled when debug mode is off")
	}

	Boot("This should NOT be logged")
	Get(CategoryFallback).Error("This should NOT be logged")
	CloseAll()

	if _, err := os.Stat(dir); err == nil {
		t.Errorf("Expected no logs directory in production mode")
	}
}

func TestCategoryToggle(t *testing.T) {
	resetLogging(t)
	defer resetLogging(t)

	dir := filepath.Join(t.TempDir(), "logs")
	opts := Options{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"memory": false, "health": true},
	}
	if err := Initialize(dir, opts); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsCategoryEnabled(CategoryMemory) {
		t.Error("memory should be disabled")
	}
	if !IsCategoryEnabled(CategoryHealth) {
		t.Error("health should be enabled")
	}
	if !IsCategoryEnabled(CategoryAgent) {
		t.Error("unlisted categories default to enabled")
	}

	Memory("hidden")
	Health("visible")
	HealthDebug("below level")
	CloseAll()

	logs := readLogs(t, dir)
	if _, ok := findLog(logs, "_memory.log"); ok {
		t.Error("memory log should not exist")
	}
	health, ok := findLog(logs, "_health.log")
	if !ok || !strings.Contains(health, "visible") {
		t.Errorf("health log missing entry: %q", health)
	}
	if strings.Contains(health, "below level") {
		t.Error("debug line written at info level")
	}
}

func TestJSONFormatAndRequestLogger(t *testing.T) {
	resetLogging(t)
	defer resetLogging(t)

	dir := filepath.Join(t.TempDir(), "logs")
	if err := Initialize(dir, Options{DebugMode: true, Level: "debug", JSONFormat: true}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	WithRequestID(CategoryFallback, "req-123").WithField("scene", "basement").Info("tier %s", "cache")
	Get(CategoryFallback).StructuredLog("warn", "degraded", map[string]interface{}{"provenance": "template"})
	CloseAll()

	content, ok := findLog(readLogs(t, dir), "_fallback.log")
	if !ok {
		t.Fatal("fallback log missing")
	}
	for _, want := range []string{`"req":"req-123"`, `"scene":"basement"`, `"msg":"tier cache"`, `"provenance":"template"`, `"cat":"fallback"`} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %s in %q", want, content)
		}
	}
}

func TestAuditLog(t *testing.T) {
	resetLogging(t)
	defer resetLogging(t)

	dir := filepath.Join(t.TempDir(), "logs")
	if err := Initialize(dir, Options{DebugMode: true}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit failed: %v", err)
	}

	AuditWithRequest("r1").TierAttempt("ai", "timeout", 15*time.Second, "deadline exceeded")
	Audit().HealthChange("narrator", "healthy", "timeout")
	CloseAudit()

	content, ok := findLog(readLogs(t, dir), "_audit.log")
	if !ok {
		t.Fatal("audit log missing")
	}
	for _, want := range []string{`"event":"tier_attempt"`, `"req":"r1"`, `"dur_ms":15000`, `"event":"health_change"`, `healthy -> timeout`} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %s in %q", want, content)
		}
	}
}

func TestTimerLogging(t *testing.T) {
	resetLogging(t)
	defer resetLogging(t)

	dir := filepath.Join(t.TempDir(), "logs")
	if err := Initialize(dir, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	timer := StartTimer(CategoryReasoning, "fan-out")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Millisecond)
	if elapsed < 5*time.Millisecond {
		t.Errorf("Expected elapsed >= 5ms, got %v", elapsed)
	}
	CloseAll()

	logs := readLogs(t, dir)
	perf, ok := findLog(logs, "_performance.log")
	if !ok || !strings.Contains(perf, "fan-out took") {
		t.Errorf("expected slow operation in performance log, got %q", perf)
	}
}
