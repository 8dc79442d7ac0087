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

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one kind of pipeline event in the audit log.
type AuditEventType string

const (
	AuditChoicesRequest  AuditEventType = "choices_request"
	AuditChoicesResult   AuditEventType = "choices_result"
	AuditTierAttempt     AuditEventType = "tier_attempt"
	AuditHealthChange    AuditEventType = "health_change"
	AuditHealthReset     AuditEventType = "health_reset"
	AuditMemoryEvict     AuditEventType = "memory_evict"
	AuditSpecialistDone  AuditEventType = "specialist_done"
	AuditSpecialistAbort AuditEventType = "specialist_abandoned"
)

// AuditEvent is one structured audit line.
type AuditEvent struct {
	EventType  AuditEventType
	RequestID  string
	Agent      string
	Target     string
	Success    bool
	DurationMs int64
	Error      string
	Message    string
	Fields     map[string]interface{}
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditZap    *zap.Logger
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes JSON audit lines. A zero value is usable; events are
// dropped until InitAudit succeeds.
type AuditLogger struct {
	requestID string
}

// InitAudit opens the audit log. No-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	file, err := os.OpenFile(filepath.Join(dir, fmt.Sprintf("%s_audit.log", date)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	encCfg.LevelKey = ""
	auditFile = file
	auditZap = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.DebugLevel))
	return nil
}

// CloseAudit flushes and closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditZap != nil {
		_ = auditZap.Sync()
		auditZap = nil
	}
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRequest creates an audit logger scoped to one GetChoices call
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditZap == nil {
		return
	}

	if event.RequestID == "" {
		event.RequestID = a.requestID
	}
	fields := []zap.Field{
		zap.String("event", string(event.EventType)),
		zap.Bool("success", event.Success),
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("req", event.RequestID))
	}
	if event.Agent != "" {
		fields = append(fields, zap.String("agent", event.Agent))
	}
	if event.Target != "" {
		fields = append(fields, zap.String("target", event.Target))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("dur_ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Fields) > 0 {
		fields = append(fields, zap.Any("fields", event.Fields))
	}
	auditZap.Info(event.Message, fields...)
}

// TierAttempt records one fallback tier outcome.
func (a *AuditLogger) TierAttempt(tier, outcome string, elapsed time.Duration, detail string) {
	a.Log(AuditEvent{
		EventType:  AuditTierAttempt,
		Target:     tier,
		Success:    outcome == "success",
		DurationMs: elapsed.Milliseconds(),
		Error:      detail,
		Message:    outcome,
	})
}

// HealthChange records a health state transition.
func (a *AuditLogger) HealthChange(agentID, from, to string) {
	a.Log(AuditEvent{
		EventType: AuditHealthChange,
		Agent:     agentID,
		Success:   to == "healthy",
		Message:   fmt.Sprintf("%s -> %s", from, to),
	})
}

// MemoryEvict records an eviction pass.
func (a *AuditLogger) MemoryEvict(agentID string, evicted, remaining int) {
	a.Log(AuditEvent{
		EventType: AuditMemoryEvict,
		Agent:     agentID,
		Success:   true,
		Fields:    map[string]interface{}{"evicted": evicted, "remaining": remaining},
	})
}

// Specialist records one deep-reasoning specialist outcome.
func (a *AuditLogger) Specialist(agentID string, elapsed time.Duration, abandoned bool, errMsg string) {
	evt := AuditSpecialistDone
	if abandoned {
		evt = AuditSpecialistAbort
	}
	a.Log(AuditEvent{
		EventType:  evt,
		Agent:      agentID,
		Success:    !abandoned && errMsg == "",
		DurationMs: elapsed.Milliseconds(),
		Error:      errMsg,
	})
}
