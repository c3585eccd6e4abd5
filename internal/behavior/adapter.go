// Package behavior converts detected patterns into executable bot behaviors.
//
// An Adapter maps each active, confident pattern to the strategies whose
// behavior type is compatible with the pattern type, applies them to the
// current adaptation context and upserts one Behavior per strategy. Behaviors
// of approval-gated types cannot be applied until approved.
package behavior

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/metrics"
	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// History ring limits.
const (
	DefaultHistoryCap    = 1000
	DefaultHistoryTrimTo = 500
)

// CapabilityIDPrefix prefixes the capability registered for each strategy.
const CapabilityIDPrefix = "capability_"

// Adapter owns the strategy registry and the adaptation history.
type Adapter struct {
	mu          sync.Mutex
	repo        store.Repository
	constraints types.LearningConstraints

	strategies  []Strategy
	history     []types.AdaptationRecord
	historyCap  int
	historyTrim int
	now         func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHistoryLimits sets the history ring cap and the size it is trimmed to.
func WithHistoryLimits(limit, trimTo int) Option {
	return func(a *Adapter) {
		if limit > 0 && trimTo > 0 && trimTo <= limit {
			a.historyCap, a.historyTrim = limit, trimTo
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New creates an adapter with the built-in strategies. The constraints are
// copied.
func New(repo store.Repository, constraints types.LearningConstraints, opts ...Option) *Adapter {
	a := &Adapter{
		repo:        repo,
		constraints: constraints.Clone(),
		strategies:  BuiltinStrategies(),
		historyCap:  DefaultHistoryCap,
		historyTrim: DefaultHistoryTrimTo,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	logging.BehaviorDebug("Adapter created with %d strategies", len(a.strategies))
	return a
}

// Adapt applies compatible strategies for every active pattern that meets the
// confidence threshold. Rejected configs and per-behavior persistence errors
// are logged and skipped.
func (a *Adapter) Adapt(ctx context.Context, patterns []*types.Pattern, actx types.AdaptationContext) (*types.BehaviorAdaptationResult, error) {
	timer := logging.StartTimer(logging.CategoryBehavior, "Adapt")
	defer timer.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	result := &types.BehaviorAdaptationResult{
		Adaptations: make([]types.Adaptation, 0),
		BehaviorIDs: make([]string, 0),
		AdaptedAt:   a.now(),
	}
	touched := make(map[string]bool)

	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.IsActive || p.Confidence < a.constraints.MinConfidenceThreshold {
			logging.BehaviorDebug("Skipping pattern %s (active=%v confidence=%.2f)", p.ID, p.IsActive, p.Confidence)
			continue
		}

		for _, s := range a.compatibleStrategies(p.Type) {
			gated := a.constraints.RequiresApproval(s.Type)
			if gated {
				result.RequiresApproval = true
			}

			cfg := s.Apply(actx)
			if !s.Validate(cfg) {
				metrics.RecordAdaptation(s.ID, "rejected")
				logging.BehaviorWarn("Strategy %s produced an invalid config, skipping", s.ID)
				continue
			}
			if !s.SafetyCheck(cfg) {
				metrics.RecordAdaptation(s.ID, "rejected")
				logging.BehaviorWarn("Strategy %s failed its safety check, skipping", s.ID)
				continue
			}

			expected := ExpectedEffectiveness(p, s.Type)
			b, err := a.upsertBehavior(ctx, s, cfg, expected, gated)
			if err != nil {
				metrics.RecordAdaptation(s.ID, "rejected")
				logging.BehaviorError("Failed to store behavior for %s: %v", s.ID, err)
				continue
			}

			metrics.RecordAdaptation(s.ID, "adapted")
			result.Adaptations = append(result.Adaptations, types.Adaptation{
				PatternID:             p.ID,
				StrategyID:            s.ID,
				BehaviorID:            b.ID,
				BehaviorType:          s.Type,
				Config:                cfg,
				ExpectedEffectiveness: expected,
				RequiresApproval:      b.RequiresApproval,
			})
			if !touched[b.ID] {
				touched[b.ID] = true
				result.BehaviorIDs = append(result.BehaviorIDs, b.ID)
			}
		}
	}

	logging.Behavior("Adaptation cycle: %d adaptations over %d behaviors (approval required: %v)",
		len(result.Adaptations), len(result.BehaviorIDs), result.RequiresApproval)
	return result, nil
}

// ExpectedEffectiveness scores applying a strategy of type bt for p.
func ExpectedEffectiveness(p *types.Pattern, bt types.BehaviorType) float64 {
	typeMatch := 0.0
	if types.IsCompatible(p.Type, bt) {
		typeMatch = 1
	}
	freq := math.Min(float64(p.Frequency)/100, 0.2)
	return math.Min(1, p.Confidence*0.7+freq+typeMatch*0.1)
}

func (a *Adapter) compatibleStrategies(pt types.PatternType) []Strategy {
	var out []Strategy
	for _, s := range a.strategies {
		if types.IsCompatible(pt, s.Type) {
			out = append(out, s)
		}
	}
	return out
}

// upsertBehavior creates behavior_<strategy> or blends expected into the
// stored effectiveness score.
func (a *Adapter) upsertBehavior(ctx context.Context, s Strategy, cfg map[string]any, expected float64, gated bool) (*types.Behavior, error) {
	id := types.BehaviorID(s.ID)
	_, err := a.repo.Behaviors().FindByID(ctx, id)
	switch {
	case err == nil:
		return a.repo.Behaviors().Update(ctx, id, func(b *types.Behavior) {
			b.Config = cfg
			b.EffectivenessScore = (b.EffectivenessScore + expected) / 2
		})

	case types.IsNotFound(err):
		n, err := a.repo.Behaviors().Count(ctx, types.BehaviorFilter{})
		if err != nil {
			return nil, err
		}
		if n >= a.constraints.MaxBehaviors {
			return nil, fmt.Errorf("behavior %s not created: %d stored: %w", id, n, types.ErrLimitExceeded)
		}
		b := &types.Behavior{
			ID:                 id,
			StrategyID:         s.ID,
			Type:               s.Type,
			Config:             cfg,
			EffectivenessScore: expected,
			RequiresApproval:   gated,
			SafetyConstraints:  append([]string(nil), a.constraints.SafetyBoundaries...),
			IsActive:           true,
		}
		logging.Behavior("Creating behavior %s (approval required: %v)", id, gated)
		return a.repo.Behaviors().Create(ctx, b)

	default:
		return nil, err
	}
}

// ApplyBehavior returns the config of an applicable behavior and counts one
// use. It fails with types.ErrNotFound, types.ErrBehaviorInactive or
// types.ErrApprovalRequired, checked in that order.
func (a *Adapter) ApplyBehavior(ctx context.Context, id string, actx types.AdaptationContext) (map[string]any, error) {
	audit := logging.Audit(logging.CategoryBehavior)

	b, err := a.repo.Behaviors().FindByID(ctx, id)
	if err != nil {
		if types.IsNotFound(err) {
			metrics.RecordApplication("not_found")
		}
		return nil, err
	}
	if !b.IsActive {
		metrics.RecordApplication("inactive")
		audit.BehaviorGate(id, false, "inactive")
		return nil, fmt.Errorf("behavior %s: %w", id, types.ErrBehaviorInactive)
	}
	if b.Gated() {
		metrics.RecordApplication("approval_required")
		audit.BehaviorGate(id, false, "approval required")
		return nil, fmt.Errorf("behavior %s: %w", id, types.ErrApprovalRequired)
	}

	if _, err := a.repo.Behaviors().RecordUsage(ctx, id, true); err != nil {
		logging.BehaviorWarn("Failed to record usage for %s: %v", id, err)
	}
	a.recordEvent(ctx, types.EventBehaviorApplied, id, map[string]any{"context": map[string]float64(actx)})

	metrics.RecordApplication("applied")
	audit.BehaviorGate(id, true, "applied")
	logging.BehaviorDebug("Applied behavior %s", id)

	cfg := make(map[string]any, len(b.Config))
	for k, v := range b.Config {
		cfg[k] = v
	}
	return cfg, nil
}

// ApproveBehavior lifts the approval gate of a behavior.
func (a *Adapter) ApproveBehavior(ctx context.Context, id, approver string) (*types.Behavior, error) {
	now := a.now()
	b, err := a.repo.Behaviors().Update(ctx, id, func(b *types.Behavior) {
		b.Approved = true
		b.ApprovedAt = &now
	})
	if err != nil {
		return nil, err
	}
	logging.Audit(logging.CategoryBehavior).Log(logging.AuditEvent{
		EventType: logging.AuditBehaviorApproved,
		Target:    id,
		Actor:     approver,
		Success:   true,
		Message:   "behavior approved",
	})
	logging.Behavior("Behavior %s approved by %s", id, approver)
	return b, nil
}

// DeactivateBehavior marks a behavior inactive; it stays stored.
func (a *Adapter) DeactivateBehavior(ctx context.Context, id, reason string) (*types.Behavior, error) {
	b, err := a.repo.Behaviors().Update(ctx, id, func(b *types.Behavior) {
		b.IsActive = false
	})
	if err != nil {
		return nil, err
	}
	logging.BehaviorWarn("Behavior %s deactivated: %s", id, reason)
	return b, nil
}

// RecordOutcome updates usage statistics and appends to the history ring.
func (a *Adapter) RecordOutcome(ctx context.Context, id string, success bool, effectiveness *float64) (*types.Behavior, error) {
	b, err := a.repo.Behaviors().RecordUsage(ctx, id, success)
	if err != nil {
		return nil, err
	}
	metrics.RecordOutcome(success)

	rec := types.AdaptationRecord{
		BehaviorID: id,
		Success:    success,
		RecordedAt: a.now(),
	}
	if effectiveness != nil {
		v := *effectiveness
		rec.Effectiveness = &v
	}

	a.mu.Lock()
	a.history = append(a.history, rec)
	if len(a.history) > a.historyCap {
		logging.BehaviorDebug("Trimming adaptation history from %d to %d", len(a.history), a.historyTrim)
		trimmed := make([]types.AdaptationRecord, a.historyTrim)
		copy(trimmed, a.history[len(a.history)-a.historyTrim:])
		a.history = trimmed
	}
	a.mu.Unlock()

	details := map[string]any{"success": success}
	if effectiveness != nil {
		details["effectiveness"] = *effectiveness
	}
	a.recordEvent(ctx, types.EventBehaviorOutcome, id, details)
	return b, nil
}

func (a *Adapter) recordEvent(ctx context.Context, t types.EventType, behaviorID string, details map[string]any) {
	_, err := a.repo.Events().Create(ctx, &types.LearningEvent{
		ID:         uuid.NewString(),
		Type:       t,
		EntityID:   behaviorID,
		EntityType: string(types.EntityBehavior),
		Details:    details,
	})
	if err != nil {
		logging.BehaviorWarn("Failed to record %s event for %s: %v", t, behaviorID, err)
	}
}

// AdaptationHistory returns a copy of the history ring, oldest first.
func (a *Adapter) AdaptationHistory() []types.AdaptationRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.AdaptationRecord(nil), a.history...)
}

// GetActiveBehaviors lists active behaviors from the repository.
func (a *Adapter) GetActiveBehaviors(ctx context.Context) ([]*types.Behavior, error) {
	return a.repo.Behaviors().FindByOptions(ctx, types.BehaviorFilter{ActiveOnly: true})
}

// RegisterStrategy adds s, replacing any strategy with the same id.
func (a *Adapter) RegisterStrategy(s Strategy) error {
	if s.ID == "" {
		return types.Invalidf("strategy id is required")
	}
	if s.Apply == nil || s.Validate == nil || s.SafetyCheck == nil {
		return types.Invalidf("strategy %s needs apply, validate and safety functions", s.ID)
	}
	switch s.Type {
	case types.BehaviorStrategy, types.BehaviorParameter, types.BehaviorResponse, types.BehaviorToolUsage:
	default:
		return types.Invalidf("strategy %s has unknown behavior type %q", s.ID, s.Type)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.strategies {
		if a.strategies[i].ID == s.ID {
			a.strategies[i] = s
			return nil
		}
	}
	a.strategies = append(a.strategies, s)
	logging.Behavior("Registered strategy %s (%s)", s.ID, s.Type)
	return nil
}

// Strategies returns the registered strategies in registration order.
func (a *Adapter) Strategies() []Strategy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Strategy(nil), a.strategies...)
}

// RegisterCapabilities upserts one capability per registered strategy and
// returns how many were written.
func (a *Adapter) RegisterCapabilities(ctx context.Context) (int, error) {
	n := 0
	for _, s := range a.Strategies() {
		id := CapabilityIDPrefix + s.ID
		_, err := a.repo.Capabilities().Update(ctx, id, func(c *types.Capability) {
			c.Name = s.Name
			c.Description = s.Description
			c.BehaviorType = s.Type
		})
		if types.IsNotFound(err) {
			_, err = a.repo.Capabilities().Create(ctx, &types.Capability{
				ID:           id,
				Name:         s.Name,
				Description:  s.Description,
				BehaviorType: s.Type,
				Enabled:      true,
			})
		}
		if err != nil {
			return n, fmt.Errorf("register capability %s: %w", id, err)
		}
		n++
	}
	logging.BehaviorDebug("Registered %d capabilities", n)
	return n, nil
}

// UpdateConstraints replaces the adapter's constraint copy.
func (a *Adapter) UpdateConstraints(u types.ConstraintsUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.constraints = a.constraints.Apply(u)
}

// Constraints returns a copy of the current constraints.
func (a *Adapter) Constraints() types.LearningConstraints {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.constraints.Clone()
}
