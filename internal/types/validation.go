package types

import "time"

// Severity ranks a failed safety check.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EntityType names the kind of entity a validation was run against.
type EntityType string

const (
	EntityPattern   EntityType = "pattern"
	EntityBehavior  EntityType = "behavior"
	EntityKnowledge EntityType = "knowledge"
)

// SafetyCheckResult is the outcome of one safety check.
type SafetyCheckResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// LearningValidationResult is the verdict on one pattern, behavior or
// knowledge entry. Confidence scores the verdict itself.
type LearningValidationResult struct {
	EntityID         string              `json:"entity_id"`
	EntityType       EntityType          `json:"entity_type"`
	IsValid          bool                `json:"is_valid"`
	Confidence       float64             `json:"confidence"`
	SafetyChecks     []SafetyCheckResult `json:"safety_checks"`
	MeetsThreshold   bool                `json:"meets_threshold"`
	PrivacyCompliant bool                `json:"privacy_compliant"`
	BiasDetected     bool                `json:"bias_detected"`
	Issues           []string            `json:"issues,omitempty"`
	Recommendations  []string            `json:"recommendations,omitempty"`
	Explanation      string              `json:"explanation,omitempty"`
	ValidatedAt      time.Time           `json:"validated_at"`
}

// SafetyPassed counts passed safety checks.
func (r *LearningValidationResult) SafetyPassed() int {
	n := 0
	for _, c := range r.SafetyChecks {
		if c.Passed {
			n++
		}
	}
	return n
}
