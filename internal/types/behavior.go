package types

import "time"

// BehaviorType is the facet of bot behavior a strategy adjusts.
type BehaviorType string

const (
	BehaviorStrategy  BehaviorType = "strategy"
	BehaviorParameter BehaviorType = "parameter"
	BehaviorResponse  BehaviorType = "response"
	BehaviorToolUsage BehaviorType = "tool_usage"
)

// BehaviorIDPrefix prefixes the deterministic behavior id of a strategy.
const BehaviorIDPrefix = "behavior_"

// BehaviorID returns the id of the single Behavior a strategy may own.
func BehaviorID(strategyID string) string {
	return BehaviorIDPrefix + strategyID
}

// Behavior is an executable adaptation produced by one strategy.
type Behavior struct {
	ID                 string         `json:"id"`
	StrategyID         string         `json:"strategy_id"`
	Type               BehaviorType   `json:"type"`
	Config             map[string]any `json:"config"`
	EffectivenessScore float64        `json:"effectiveness_score"`
	UsageCount         int            `json:"usage_count"`
	SuccessCount       int            `json:"success_count"`
	FailureCount       int            `json:"failure_count"`
	RequiresApproval   bool           `json:"requires_approval"`
	Approved           bool           `json:"approved"`
	ApprovedAt         *time.Time     `json:"approved_at,omitempty"`
	SafetyConstraints  []string       `json:"safety_constraints,omitempty"`
	IsActive           bool           `json:"is_active"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (b *Behavior) Key() string  { return b.ID }
func (b *Behavior) Kind() string { return string(b.Type) }
func (b *Behavior) Ref() string  { return b.StrategyID }

func (b *Behavior) Stamp(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Gated reports whether the behavior still waits for approval.
func (b *Behavior) Gated() bool {
	return b.RequiresApproval && !b.Approved
}

// RecordUsage applies one observed use to the counters. The effectiveness
// score becomes the running success rate including this observation.
func (b *Behavior) RecordUsage(success bool) {
	b.UsageCount++
	if success {
		b.SuccessCount++
	} else {
		b.FailureCount++
	}
	b.EffectivenessScore = float64(b.SuccessCount) / float64(b.UsageCount)
}

// BehaviorFilter selects behaviors in FindByOptions.
type BehaviorFilter struct {
	Type             BehaviorType
	ActiveOnly       bool
	MinEffectiveness float64
	PendingApproval  bool
	Limit            int
}

func (f BehaviorFilter) KindValue() string { return string(f.Type) }
func (f BehaviorFilter) MaxResults() int   { return f.Limit }
func (f BehaviorFilter) RefValue() string  { return "" }

func (f BehaviorFilter) Matches(b *Behavior) bool {
	if f.Type != "" && b.Type != f.Type {
		return false
	}
	if f.ActiveOnly && !b.IsActive {
		return false
	}
	if f.PendingApproval && !b.Gated() {
		return false
	}
	return b.EffectivenessScore >= f.MinEffectiveness
}

// AdaptationContext carries the ambient metrics strategies derive configs from.
type AdaptationContext map[string]float64

// Get returns the named value or def when absent.
func (c AdaptationContext) Get(key string, def float64) float64 {
	if c == nil {
		return def
	}
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// Adaptation is one strategy applied on behalf of one pattern.
type Adaptation struct {
	PatternID             string         `json:"pattern_id"`
	StrategyID            string         `json:"strategy_id"`
	BehaviorID            string         `json:"behavior_id"`
	BehaviorType          BehaviorType   `json:"behavior_type"`
	Config                map[string]any `json:"config"`
	ExpectedEffectiveness float64        `json:"expected_effectiveness"`
	RequiresApproval      bool           `json:"requires_approval"`
}

// BehaviorAdaptationResult is the output of one adaptation cycle.
type BehaviorAdaptationResult struct {
	Adaptations      []Adaptation `json:"adaptations"`
	BehaviorIDs      []string     `json:"behavior_ids"`
	RequiresApproval bool         `json:"requires_approval"`
	AdaptedAt        time.Time    `json:"adapted_at"`
}

// AdaptationRecord is one entry of the adapter's outcome history.
type AdaptationRecord struct {
	BehaviorID    string    `json:"behavior_id"`
	Success       bool      `json:"success"`
	Effectiveness *float64  `json:"effectiveness,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Capability advertises an adaptation strategy the bot can apply.
type Capability struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	BehaviorType BehaviorType `json:"behavior_type"`
	Enabled      bool         `json:"enabled"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (c *Capability) Key() string  { return c.ID }
func (c *Capability) Kind() string { return string(c.BehaviorType) }
func (c *Capability) Ref() string  { return "" }

func (c *Capability) Stamp(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

// CapabilityFilter selects capabilities in FindByOptions.
type CapabilityFilter struct {
	BehaviorType BehaviorType
	EnabledOnly  bool
	Limit        int
}

func (f CapabilityFilter) KindValue() string { return string(f.BehaviorType) }
func (f CapabilityFilter) MaxResults() int   { return f.Limit }
func (f CapabilityFilter) RefValue() string  { return "" }

func (f CapabilityFilter) Matches(c *Capability) bool {
	if f.BehaviorType != "" && c.BehaviorType != f.BehaviorType {
		return false
	}
	return !f.EnabledOnly || c.Enabled
}
