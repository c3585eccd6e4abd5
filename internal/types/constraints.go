package types

// Safety boundary labels. The validator's built-in safety checks carry the
// same names.
const (
	BoundaryNoUserDataExposure          = "no_user_data_exposure"
	BoundaryNoUnauthorizedModifications = "no_unauthorized_modifications"
	BoundaryNoPrivilegeEscalation       = "no_privilege_escalation"
)

// LearningConstraints is the policy every learning component is built with.
// Components keep their own copy; UpdateConstraints replaces it.
type LearningConstraints struct {
	MaxPatterns               int            `yaml:"max_patterns" json:"max_patterns" validate:"gte=1"`
	MaxBehaviors              int            `yaml:"max_behaviors" json:"max_behaviors" validate:"gte=1"`
	MaxKnowledgeEntries       int            `yaml:"max_knowledge_entries" json:"max_knowledge_entries" validate:"gte=1"`
	MinConfidenceThreshold    float64        `yaml:"min_confidence_threshold" json:"min_confidence_threshold" validate:"gte=0,lte=1"`
	MinEffectivenessThreshold float64        `yaml:"min_effectiveness_threshold" json:"min_effectiveness_threshold" validate:"gte=0,lte=1"`
	RequireApprovalFor        []BehaviorType `yaml:"require_approval_for" json:"require_approval_for"`
	ForbiddenPatterns         []string       `yaml:"forbidden_patterns" json:"forbidden_patterns"`
	SafetyBoundaries          []string       `yaml:"safety_boundaries" json:"safety_boundaries"`
	PrivacyProtection         bool           `yaml:"privacy_protection" json:"privacy_protection"`
	BiasDetection             bool           `yaml:"bias_detection" json:"bias_detection"`
	ExplainabilityRequired    bool           `yaml:"explainability_required" json:"explainability_required"`
}

// DefaultConstraints returns the process-wide default policy. It is the
// single source of defaults; components receive copies of it.
func DefaultConstraints() LearningConstraints {
	return LearningConstraints{
		MaxPatterns:               1000,
		MaxBehaviors:              100,
		MaxKnowledgeEntries:       10000,
		MinConfidenceThreshold:    0.7,
		MinEffectivenessThreshold: 0.6,
		RequireApprovalFor:        []BehaviorType{BehaviorParameter, BehaviorToolUsage},
		ForbiddenPatterns:         []string{},
		SafetyBoundaries: []string{
			BoundaryNoUserDataExposure,
			BoundaryNoUnauthorizedModifications,
			BoundaryNoPrivilegeEscalation,
		},
		PrivacyProtection:      true,
		BiasDetection:          true,
		ExplainabilityRequired: true,
	}
}

// Clone returns a deep copy so slices are never shared between components.
func (c LearningConstraints) Clone() LearningConstraints {
	out := c
	out.RequireApprovalFor = append([]BehaviorType(nil), c.RequireApprovalFor...)
	out.ForbiddenPatterns = append([]string(nil), c.ForbiddenPatterns...)
	out.SafetyBoundaries = append([]string(nil), c.SafetyBoundaries...)
	return out
}

// RequiresApproval reports whether behaviors of type t are approval-gated.
func (c LearningConstraints) RequiresApproval(t BehaviorType) bool {
	for _, bt := range c.RequireApprovalFor {
		if bt == t {
			return true
		}
	}
	return false
}

// IsForbidden reports whether a pattern id (or text) is on the forbidden list.
func (c LearningConstraints) IsForbidden(id string) bool {
	for _, f := range c.ForbiddenPatterns {
		if f == id {
			return true
		}
	}
	return false
}

// ConstraintsUpdate is a partial update; nil fields are left unchanged.
type ConstraintsUpdate struct {
	MaxPatterns               *int           `yaml:"max_patterns,omitempty" json:"max_patterns,omitempty"`
	MaxBehaviors              *int           `yaml:"max_behaviors,omitempty" json:"max_behaviors,omitempty"`
	MaxKnowledgeEntries       *int           `yaml:"max_knowledge_entries,omitempty" json:"max_knowledge_entries,omitempty"`
	MinConfidenceThreshold    *float64       `yaml:"min_confidence_threshold,omitempty" json:"min_confidence_threshold,omitempty"`
	MinEffectivenessThreshold *float64       `yaml:"min_effectiveness_threshold,omitempty" json:"min_effectiveness_threshold,omitempty"`
	RequireApprovalFor        []BehaviorType `yaml:"require_approval_for,omitempty" json:"require_approval_for,omitempty"`
	ForbiddenPatterns         []string       `yaml:"forbidden_patterns,omitempty" json:"forbidden_patterns,omitempty"`
	SafetyBoundaries          []string       `yaml:"safety_boundaries,omitempty" json:"safety_boundaries,omitempty"`
	PrivacyProtection         *bool          `yaml:"privacy_protection,omitempty" json:"privacy_protection,omitempty"`
	BiasDetection             *bool          `yaml:"bias_detection,omitempty" json:"bias_detection,omitempty"`
	ExplainabilityRequired    *bool          `yaml:"explainability_required,omitempty" json:"explainability_required,omitempty"`
}

// Apply returns a copy of c with the non-nil fields of u applied.
func (c LearningConstraints) Apply(u ConstraintsUpdate) LearningConstraints {
	out := c.Clone()
	if u.MaxPatterns != nil {
		out.MaxPatterns = *u.MaxPatterns
	}
	if u.MaxBehaviors != nil {
		out.MaxBehaviors = *u.MaxBehaviors
	}
	if u.MaxKnowledgeEntries != nil {
		out.MaxKnowledgeEntries = *u.MaxKnowledgeEntries
	}
	if u.MinConfidenceThreshold != nil {
		out.MinConfidenceThreshold = *u.MinConfidenceThreshold
	}
	if u.MinEffectivenessThreshold != nil {
		out.MinEffectivenessThreshold = *u.MinEffectivenessThreshold
	}
	if u.RequireApprovalFor != nil {
		out.RequireApprovalFor = append([]BehaviorType(nil), u.RequireApprovalFor...)
	}
	if u.ForbiddenPatterns != nil {
		out.ForbiddenPatterns = append([]string(nil), u.ForbiddenPatterns...)
	}
	if u.SafetyBoundaries != nil {
		out.SafetyBoundaries = append([]string(nil), u.SafetyBoundaries...)
	}
	if u.PrivacyProtection != nil {
		out.PrivacyProtection = *u.PrivacyProtection
	}
	if u.BiasDetection != nil {
		out.BiasDetection = *u.BiasDetection
	}
	if u.ExplainabilityRequired != nil {
		out.ExplainabilityRequired = *u.ExplainabilityRequired
	}
	return out
}

// FullUpdate turns a complete constraints value into an update that replaces
// every field. Used when a reloaded config file is pushed into components.
func FullUpdate(c LearningConstraints) ConstraintsUpdate {
	c = c.Clone()
	return ConstraintsUpdate{
		MaxPatterns:               &c.MaxPatterns,
		MaxBehaviors:              &c.MaxBehaviors,
		MaxKnowledgeEntries:       &c.MaxKnowledgeEntries,
		MinConfidenceThreshold:    &c.MinConfidenceThreshold,
		MinEffectivenessThreshold: &c.MinEffectivenessThreshold,
		RequireApprovalFor:        nonNil(c.RequireApprovalFor),
		ForbiddenPatterns:         nonNilStrings(c.ForbiddenPatterns),
		SafetyBoundaries:          nonNilStrings(c.SafetyBoundaries),
		PrivacyProtection:         &c.PrivacyProtection,
		BiasDetection:             &c.BiasDetection,
		ExplainabilityRequired:    &c.ExplainabilityRequired,
	}
}

func nonNil(v []BehaviorType) []BehaviorType {
	if v == nil {
		return []BehaviorType{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
