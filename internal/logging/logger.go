// Package logging provides config-driven categorized file-based logging for eldritch.
// Logs are written to the configured logs directory with separate files per category.
// Logging is controlled by logging.debug_mode in the config file - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot        Category = "boot"        // Boot/initialization
	CategoryConfig      Category = "config"      // Config load, validation, hot reload
	CategoryPerformance Category = "performance" // Slow operations

	// Pipeline categories
	CategoryMemory    Category = "memory"    // Per-agent memory stores
	CategoryHealth    Category = "health"    // Agent health classification
	CategoryChoices   Category = "choices"   // Template generation, parsing, ranking
	CategoryFallback  Category = "fallback"  // Tier pipeline decisions
	CategoryReasoning Category = "reasoning" // Deep reasoning fan-out

	// Integration categories
	CategoryAgent Category = "agent" // Generative agent calls
	CategoryAPI   Category = "api"   // HTTP surface
	CategoryStore Category = "store" // Memory archive (SQLite)
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger wraps a zap sugared logger bound to one category file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	config    Options
	configMu  sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize sets up the logging directory and applies opts.
// Should be called once at startup.
func Initialize(dir string, opts Options) error {
	if dir == "" {
		return fmt.Errorf("logs directory required")
	}

	configMu.Lock()
	config = opts
	logsDir = dir
	configMu.Unlock()

	level.SetLevel(parseLevel(opts.Level))

	if !opts.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== eldritch logging initialized ===")
	bootLogger.Info("Logs directory: %s", dir)
	bootLogger.Info("Log level: %s", level.Level())
	if len(opts.Categories) == 0 {
		bootLogger.Info("All categories enabled (no category filter)")
	}

	return nil
}

// Reconfigure swaps the options at runtime. Open category files stay open;
// disabled categories stop writing immediately.
func Reconfigure(opts Options) {
	configMu.Lock()
	config = opts
	configMu.Unlock()
	level.SetLevel(parseLevel(opts.Level))
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	configMu.RLock()
	dir := logsDir
	jsonFormat := config.JSONFormat
	configMu.RUnlock()
	if dir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(newCore(file, jsonFormat)).With(zap.String("cat", string(category))).Sugar(),
	}
	loggers[category] = l
	return l
}

func newCore(file *os.File, jsonFormat bool) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.LevelKey = "lvl"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(file), level)
}

func (l *Logger) enabled() bool {
	return l.sugar != nil && IsCategoryEnabled(l.category)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.enabled() {
		l.sugar.Debugf(format, args...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.enabled() {
		l.sugar.Infof(format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.enabled() {
		l.sugar.Warnf(format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.enabled() {
		l.sugar.Errorf(format, args...)
	}
}

// StructuredLog writes a message with structured fields at the given level.
func (l *Logger) StructuredLog(lvl string, msg string, fields map[string]interface{}) {
	if !l.enabled() {
		return
	}
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch parseLevel(lvl) {
	case zapcore.DebugLevel:
		l.sugar.Debugw(msg, kv...)
	case zapcore.WarnLevel:
		l.sugar.Warnw(msg, kv...)
	case zapcore.ErrorLevel:
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigWarn logs warning to the config category
func ConfigWarn(format string, args ...interface{}) {
	Get(CategoryConfig).Warn(format, args...)
}

// Memory logs to the memory category
func Memory(format string, args ...interface{}) {
	Get(CategoryMemory).Info(format, args...)
}

// MemoryDebug logs debug to the memory category
func MemoryDebug(format string, args ...interface{}) {
	Get(CategoryMemory).Debug(format, args...)
}

// Health logs to the health category
func Health(format string, args ...interface{}) {
	Get(CategoryHealth).Info(format, args...)
}

// HealthDebug logs debug to the health category
func HealthDebug(format string, args ...interface{}) {
	Get(CategoryHealth).Debug(format, args...)
}

// HealthWarn logs warning to the health category
func HealthWarn(format string, args ...interface{}) {
	Get(CategoryHealth).Warn(format, args...)
}

// Choices logs to the choices category
func Choices(format string, args ...interface{}) {
	Get(CategoryChoices).Info(format, args...)
}

// ChoicesDebug logs debug to the choices category
func ChoicesDebug(format string, args ...interface{}) {
	Get(CategoryChoices).Debug(format, args...)
}

// Fallback logs to the fallback category
func Fallback(format string, args ...interface{}) {
	Get(CategoryFallback).Info(format, args...)
}

// FallbackDebug logs debug to the fallback category
func FallbackDebug(format string, args ...interface{}) {
	Get(CategoryFallback).Debug(format, args...)
}

// FallbackWarn logs warning to the fallback category
func FallbackWarn(format string, args ...interface{}) {
	Get(CategoryFallback).Warn(format, args...)
}

// Reasoning logs to the reasoning category
func Reasoning(format string, args ...interface{}) {
	Get(CategoryReasoning).Info(format, args...)
}

// ReasoningDebug logs debug to the reasoning category
func ReasoningDebug(format string, args ...interface{}) {
	Get(CategoryReasoning).Debug(format, args...)
}

// ReasoningWarn logs warning to the reasoning category
func ReasoningWarn(format string, args ...interface{}) {
	Get(CategoryReasoning).Warn(format, args...)
}

// Agent logs to the agent category
func Agent(format string, args ...interface{}) {
	Get(CategoryAgent).Info(format, args...)
}

// AgentDebug logs debug to the agent category
func AgentDebug(format string, args ...interface{}) {
	Get(CategoryAgent).Debug(format, args...)
}

// AgentError logs error to the agent category
func AgentError(format string, args ...interface{}) {
	Get(CategoryAgent).Error(format, args...)
}

// API logs to the api category
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIError logs error to the api category
func APIError(format string, args ...interface{}) {
	Get(CategoryAPI).Error(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// =============================================================================
// REQUEST ID TRACING - For per-call correlation
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    []interface{}
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields = append(r.fields, key, value)
	return r
}

func (r *RequestLogger) sugar() *zap.SugaredLogger {
	return r.logger.sugar.With(append([]interface{}{"req", r.requestID}, r.fields...)...)
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	if r.logger.enabled() {
		r.sugar().Debugf(format, args...)
	}
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	if r.logger.enabled() {
		r.sugar().Infof(format, args...)
	}
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	if r.logger.enabled() {
		r.sugar().Warnf(format, args...)
	}
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	if r.logger.enabled() {
		r.sugar().Errorf(format, args...)
	}
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
		Get(CategoryPerformance).Warn("[%s] %s took %v (threshold: %v)", t.category, t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
