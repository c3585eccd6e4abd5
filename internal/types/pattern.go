package types

import "time"

// PatternType classifies what a detected regularity describes.
type PatternType string

const (
	PatternUserBehavior    PatternType = "user_behavior"
	PatternInteraction     PatternType = "interaction"
	PatternSuccessMetric   PatternType = "success_metric"
	PatternFailureAnalysis PatternType = "failure_analysis"
	PatternContextMapping  PatternType = "context_mapping"
)

// PatternExample is one interaction that matched a pattern definition.
type PatternExample struct {
	Data      Interaction `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	Outcome   Outcome     `json:"outcome"`
}

// Pattern is a detected regularity in interaction data.
// Confidence is recomputed from the full interaction window on every pass.
type Pattern struct {
	ID            string           `json:"id"`
	Type          PatternType      `json:"type"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Confidence    float64          `json:"confidence"`
	Frequency     int              `json:"frequency"`
	FirstObserved time.Time        `json:"first_observed"`
	LastObserved  time.Time        `json:"last_observed"`
	Context       map[string]any   `json:"context,omitempty"`
	Examples      []PatternExample `json:"examples,omitempty"`
	IsActive      bool             `json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (p *Pattern) Key() string  { return p.ID }
func (p *Pattern) Kind() string { return string(p.Type) }
func (p *Pattern) Ref() string  { return "" }

// Stamp sets CreatedAt on first write and UpdatedAt on every write.
func (p *Pattern) Stamp(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

// PatternFilter selects patterns in FindByOptions.
type PatternFilter struct {
	Type          PatternType
	ActiveOnly    bool
	MinConfidence float64
	Limit         int
}

func (f PatternFilter) KindValue() string { return string(f.Type) }
func (f PatternFilter) MaxResults() int   { return f.Limit }
func (f PatternFilter) RefValue() string  { return "" }

func (f PatternFilter) Matches(p *Pattern) bool {
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.ActiveOnly && !p.IsActive {
		return false
	}
	return p.Confidence >= f.MinConfidence
}

// ConfidenceLevel is the ordinal display bucket of a numeric confidence.
type ConfidenceLevel string

const (
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
)

// InsightType labels the kind of recommendation an insight carries.
type InsightType string

const (
	InsightAdaptation    InsightType = "behavior_adaptation"
	InsightErrorReview   InsightType = "error_review"
	InsightReinforcement InsightType = "reinforcement"
)

// PatternInsight is a ranked recommendation derived from the pattern list.
type PatternInsight struct {
	Type               InsightType    `json:"type"`
	PatternID          string         `json:"pattern_id"`
	Message            string         `json:"message"`
	Priority           float64        `json:"priority"`
	SuggestedBehaviors []BehaviorType `json:"suggested_behaviors,omitempty"`
}

// PatternRecognitionResult is the output of one analysis pass.
type PatternRecognitionResult struct {
	Patterns   []*Pattern       `json:"patterns"`
	Insights   []PatternInsight `json:"insights"`
	AnalyzedAt time.Time        `json:"analyzed_at"`
}
