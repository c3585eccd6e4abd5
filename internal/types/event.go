package types

import "time"

// EventType names an entry in the learning event log.
type EventType string

const (
	EventABAssignment     EventType = "ab_test_assignment"
	EventABConversion     EventType = "ab_test_conversion"
	EventBehaviorApplied  EventType = "behavior_applied"
	EventBehaviorOutcome  EventType = "behavior_outcome"
	EventValidation       EventType = "validation"
	EventPatternsAnalyzed EventType = "patterns_analyzed"
)

// LearningEvent is an append-only record in the events collection.
type LearningEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	UserID     string         `json:"user_id,omitempty"`
	GuildID    string         `json:"guild_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (e *LearningEvent) Key() string  { return e.ID }
func (e *LearningEvent) Kind() string { return string(e.Type) }
func (e *LearningEvent) Ref() string  { return e.EntityID }

func (e *LearningEvent) Stamp(now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}

// EventFilter selects events in FindByOptions.
type EventFilter struct {
	Type     EventType
	EntityID string
	UserID   string
	Since    time.Time
	Limit    int
}

func (f EventFilter) KindValue() string { return string(f.Type) }
func (f EventFilter) MaxResults() int   { return f.Limit }
func (f EventFilter) RefValue() string  { return f.EntityID }

func (f EventFilter) Matches(e *LearningEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	return f.Since.IsZero() || !e.CreatedAt.Before(f.Since)
}
