// Package types holds the entities shared by the learning components:
// interactions, patterns, behaviors, knowledge, experiments and the
// constraints that govern them. It has no internal dependencies.
package types

import "time"

// Outcome is the result label attached to interactions and pattern examples.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNeutral Outcome = "neutral"
)

// Interaction is one record delivered by the event-ingestion collaborator.
type Interaction struct {
	Type      string             `json:"type"`
	Content   string             `json:"content"`
	UserID    string             `json:"user_id,omitempty"`
	GuildID   string             `json:"guild_id,omitempty"`
	ChannelID string             `json:"channel_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Context   map[string]any     `json:"context,omitempty"`
	Outcome   Outcome            `json:"outcome"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Metric returns a named metric and whether it was present.
func (i Interaction) Metric(name string) (float64, bool) {
	if i.Metrics == nil {
		return 0, false
	}
	v, ok := i.Metrics[name]
	return v, ok
}

// ContextString returns a string-valued context entry.
func (i Interaction) ContextString(key string) string {
	if i.Context == nil {
		return ""
	}
	if s, ok := i.Context[key].(string); ok {
		return s
	}
	return ""
}

// Integration metric sources.
const (
	SourceConversation = "conversation"
	SourceFeedback     = "feedback"
	SourcePerformance  = "performance"
)

// IntegrationMetrics is a snapshot emitted by one of the conversation, feedback
// or performance monitors. Values are keyed by the same names strategies read
// from an AdaptationContext (average_engagement, avg_response_time, ...).
type IntegrationMetrics struct {
	Source    string             `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}
