package logging

import (
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Safety gate -> validator verdicts
	AuditSafetyBlock AuditEventType = "safety_block"
	AuditSafetyAllow AuditEventType = "safety_allow"

	// Knowledge access control
	AuditKnowledgeRead   AuditEventType = "knowledge_read"
	AuditKnowledgeDenied AuditEventType = "knowledge_denied"
	AuditKnowledgeForget AuditEventType = "knowledge_forget"

	// Behavior lifecycle
	AuditBehaviorApplied  AuditEventType = "behavior_applied"
	AuditBehaviorApproved AuditEventType = "behavior_approved"
	AuditBehaviorBlocked  AuditEventType = "behavior_blocked"

	// Experiment lifecycle
	AuditExperimentTransition AuditEventType = "experiment_transition"

	// Policy changes
	AuditConstraintsUpdated AuditEventType = "constraints_updated"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp time.Time              `json:"ts"`
	EventType AuditEventType         `json:"event"`
	Category  Category               `json:"cat"`
	Target    string                 `json:"target"`  // Entity the event is about
	Actor     string                 `json:"actor"`   // User or component acting
	Success   bool                   `json:"success"` // Operation allowed/succeeded
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields"`
}

// AuditLogger writes audit events to the shared zap core under the "audit" name.
type AuditLogger struct {
	category Category
}

// Audit returns an audit logger that tags events with category.
func Audit(category Category) *AuditLogger {
	return &AuditLogger{category: category}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = a.category
	}

	mu.RLock()
	l := base.Named("audit")
	mu.RUnlock()

	fields := []zap.Field{
		zap.Time("event_ts", event.Timestamp),
		zap.String("event", string(event.EventType)),
		zap.String("cat", string(event.Category)),
		zap.String("target", event.Target),
		zap.Bool("success", event.Success),
	}
	if event.Actor != "" {
		fields = append(fields, zap.String("actor", event.Actor))
	}
	if len(event.Fields) > 0 {
		fields = append(fields, zap.Any("fields", event.Fields))
	}
	l.Info(event.Message, fields...)
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// SafetyVerdict logs the outcome of a validation run.
func (a *AuditLogger) SafetyVerdict(entityType, entityID string, valid bool, failed []string) {
	evt := AuditSafetyAllow
	if !valid {
		evt = AuditSafetyBlock
	}
	a.Log(AuditEvent{
		EventType: evt,
		Target:    entityID,
		Success:   valid,
		Message:   "validation verdict",
		Fields: map[string]interface{}{
			"entity_type":   entityType,
			"failed_checks": failed,
		},
	})
}

// KnowledgeAccess logs a read attempt against a knowledge entry.
func (a *AuditLogger) KnowledgeAccess(knowledgeID, userID string, allowed bool) {
	evt := AuditKnowledgeRead
	if !allowed {
		evt = AuditKnowledgeDenied
	}
	a.Log(AuditEvent{
		EventType: evt,
		Target:    knowledgeID,
		Actor:     userID,
		Success:   allowed,
		Message:   "knowledge access",
	})
}

// BehaviorGate logs an applyBehavior decision.
func (a *AuditLogger) BehaviorGate(behaviorID string, allowed bool, reason string) {
	evt := AuditBehaviorApplied
	if !allowed {
		evt = AuditBehaviorBlocked
	}
	a.Log(AuditEvent{
		EventType: evt,
		Target:    behaviorID,
		Success:   allowed,
		Message:   reason,
	})
}

// ExperimentTransition logs an experiment status change.
func (a *AuditLogger) ExperimentTransition(experimentID, from, to string) {
	a.Log(AuditEvent{
		EventType: AuditExperimentTransition,
		Target:    experimentID,
		Success:   true,
		Message:   "experiment status changed",
		Fields:    map[string]interface{}{"from": from, "to": to},
	})
}
