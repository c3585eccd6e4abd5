// Package validation gates learned entities before they are used.
//
// A Validator re-checks patterns, behaviors and knowledge entries against
// pluggable safety checks, bias heuristics, privacy rules and the configured
// thresholds, and runs the A/B experiments that measure a behavior before it
// is promoted.
package validation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/metrics"
	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Verdict weights. They sum to 1.
const (
	weightSafety    = 0.4
	weightThreshold = 0.3
	weightPrivacy   = 0.15
	weightNoBias    = 0.15
)

// DefaultHistoryPerEntity bounds the validation history kept per entity.
const DefaultHistoryPerEntity = 50

// Validator validates learned entities and owns A/B experiments.
type Validator struct {
	mu          sync.Mutex
	repo        store.Repository
	constraints types.LearningConstraints
	checks      []SafetyCheck
	history     map[string][]*types.LearningValidationResult
	historyCap  int

	abMu        sync.Mutex
	experiments map[string]*types.ABTestExperiment
	expOrder    []string
	random      func() float64
	structs     *validator.Validate

	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithSafetyChecks replaces the built-in safety checks.
func WithSafetyChecks(checks ...SafetyCheck) Option {
	return func(v *Validator) { v.checks = append([]SafetyCheck(nil), checks...) }
}

// WithRandom sets the source of uniform [0,1) numbers used for variant
// assignment.
func WithRandom(random func() float64) Option {
	return func(v *Validator) { v.random = random }
}

// WithHistoryPerEntity bounds per-entity validation history.
func WithHistoryPerEntity(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.historyCap = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a validator. The constraints are copied.
func New(repo store.Repository, constraints types.LearningConstraints, opts ...Option) *Validator {
	v := &Validator{
		repo:        repo,
		constraints: constraints.Clone(),
		checks:      DefaultSafetyChecks(),
		history:     make(map[string][]*types.LearningValidationResult),
		historyCap:  DefaultHistoryPerEntity,
		experiments: make(map[string]*types.ABTestExperiment),
		random:      rand.Float64,
		structs:     newStructValidator(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	logging.ValidationDebug("Validator created with %d safety checks", len(v.checks))
	return v
}

// AddSafetyCheck appends a check to the set run on every entity.
func (v *Validator) AddSafetyCheck(c SafetyCheck) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checks = append(v.checks, c)
}

// ValidatePattern checks a pattern's confidence against the threshold.
func (v *Validator) ValidatePattern(ctx context.Context, p *types.Pattern) (*types.LearningValidationResult, error) {
	c := v.Constraints()
	meets := p.Confidence >= c.MinConfidenceThreshold
	var issues []string
	if !meets {
		issues = append(issues, fmt.Sprintf("confidence %.2f is below threshold %.2f", p.Confidence, c.MinConfidenceThreshold))
	}
	if c.IsForbidden(p.ID) {
		meets = false
		issues = append(issues, fmt.Sprintf("pattern %s is forbidden", p.ID))
	}
	return v.validate(ctx, types.EntityPattern, p.ID, serializePattern(p), meets, true, issues)
}

// ValidateBehavior checks a behavior's effectiveness against the threshold.
func (v *Validator) ValidateBehavior(ctx context.Context, b *types.Behavior) (*types.LearningValidationResult, error) {
	c := v.Constraints()
	meets := b.EffectivenessScore >= c.MinEffectivenessThreshold
	var issues []string
	if !meets {
		issues = append(issues, fmt.Sprintf("effectiveness %.2f is below threshold %.2f", b.EffectivenessScore, c.MinEffectivenessThreshold))
	}
	return v.validate(ctx, types.EntityBehavior, b.ID, serializeBehavior(b), meets, true, issues)
}

// ValidateKnowledge checks confidence and privacy scoping of an entry.
func (v *Validator) ValidateKnowledge(ctx context.Context, k *types.Knowledge) (*types.LearningValidationResult, error) {
	c := v.Constraints()
	meets := k.Confidence >= c.MinConfidenceThreshold
	var issues []string
	if !meets {
		issues = append(issues, fmt.Sprintf("confidence %.2f is below threshold %.2f", k.Confidence, c.MinConfidenceThreshold))
	}
	privacyOK := true
	if c.PrivacyProtection {
		privacyOK = k.PrivacyLevel.Valid() && k.PrivacyConsistent()
		if !privacyOK {
			issues = append(issues, fmt.Sprintf("privacy level %q is not consistent with the entry's scope", k.PrivacyLevel))
		}
	}
	return v.validate(ctx, types.EntityKnowledge, k.ID, serializeKnowledge(k), meets, privacyOK, issues)
}

func (v *Validator) validate(ctx context.Context, et types.EntityType, id, serialized string, meets, privacyOK bool, issues []string) (*types.LearningValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	checks := append([]SafetyCheck(nil), v.checks...)
	biasOn := v.constraints.BiasDetection
	explain := v.constraints.ExplainabilityRequired
	v.mu.Unlock()

	res := &types.LearningValidationResult{
		EntityID:         id,
		EntityType:       et,
		MeetsThreshold:   meets,
		PrivacyCompliant: privacyOK,
		Issues:           issues,
		ValidatedAt:      v.now(),
	}

	var failed []string
	for _, c := range checks {
		r := types.SafetyCheckResult{Name: c.Name(), Passed: c.Check(serialized), Severity: c.Severity()}
		if !r.Passed {
			r.Message = fmt.Sprintf("%s check failed", c.Name())
			failed = append(failed, c.Name())
			res.Issues = append(res.Issues, r.Message)
		}
		res.SafetyChecks = append(res.SafetyChecks, r)
	}

	if biasOn && detectBias(serialized) {
		res.BiasDetected = true
		res.Issues = append(res.Issues, "biased language detected")
	}

	res.IsValid = len(failed) == 0 && meets && privacyOK && !res.BiasDetected
	res.Confidence = verdictConfidence(res)
	res.Recommendations = recommendations(res)
	if explain {
		res.Explanation = explanation(res)
	}

	v.remember(res)
	v.recordEvent(ctx, res)
	metrics.RecordValidation(string(et), res.IsValid, failed)
	logging.Audit(logging.CategoryValidation).SafetyVerdict(string(et), id, res.IsValid, failed)
	logging.ValidationDebug("Validated %s %s: valid=%v confidence=%.2f", et, id, res.IsValid, res.Confidence)
	return res, nil
}

func verdictConfidence(r *types.LearningValidationResult) float64 {
	ratio := 1.0
	if n := len(r.SafetyChecks); n > 0 {
		ratio = float64(r.SafetyPassed()) / float64(n)
	}
	score := weightSafety * ratio
	if r.MeetsThreshold {
		score += weightThreshold
	}
	if r.PrivacyCompliant {
		score += weightPrivacy
	}
	if !r.BiasDetected {
		score += weightNoBias
	}
	return math.Min(1, score)
}

func recommendations(r *types.LearningValidationResult) []string {
	var out []string
	for _, c := range r.SafetyChecks {
		if !c.Passed {
			out = append(out, fmt.Sprintf("Remove content flagged by %s", c.Name))
		}
	}
	if !r.MeetsThreshold {
		out = append(out, "Gather more observations before activating")
	}
	if !r.PrivacyCompliant {
		out = append(out, "Set the user or guild id required by the privacy level")
	}
	if r.BiasDetected {
		out = append(out, "Rephrase to remove generalizations about groups")
	}
	return out
}

func explanation(r *types.LearningValidationResult) string {
	if r.IsValid {
		return fmt.Sprintf("%s %s passed %d/%d safety checks and meets its threshold",
			r.EntityType, r.EntityID, r.SafetyPassed(), len(r.SafetyChecks))
	}
	return fmt.Sprintf("%s %s rejected: %s", r.EntityType, r.EntityID, strings.Join(r.Issues, "; "))
}

func (v *Validator) remember(r *types.LearningValidationResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h := append(v.history[r.EntityID], r)
	if len(h) > v.historyCap {
		h = append([]*types.LearningValidationResult(nil), h[len(h)-v.historyCap:]...)
	}
	v.history[r.EntityID] = h
}

func (v *Validator) recordEvent(ctx context.Context, r *types.LearningValidationResult) {
	_, err := v.repo.Events().Create(ctx, &types.LearningEvent{
		ID:         uuid.NewString(),
		Type:       types.EventValidation,
		EntityID:   r.EntityID,
		EntityType: string(r.EntityType),
		Details: map[string]any{
			"is_valid":   r.IsValid,
			"confidence": r.Confidence,
			"issues":     r.Issues,
		},
	})
	if err != nil {
		logging.ValidationWarn("Failed to record validation event for %s: %v", r.EntityID, err)
	}
}

// History returns the validation results recorded for an entity, oldest
// first.
func (v *Validator) History(entityID string) []*types.LearningValidationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*types.LearningValidationResult(nil), v.history[entityID]...)
}

// UpdateConstraints replaces the validator's constraint copy.
func (v *Validator) UpdateConstraints(u types.ConstraintsUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.constraints = v.constraints.Apply(u)
}

// Constraints returns a copy of the current constraints.
func (v *Validator) Constraints() types.LearningConstraints {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.constraints.Clone()
}
