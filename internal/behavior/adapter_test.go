package behavior

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
	"github.com/DavinciDreams/Megawatts-sub008/internal/store/storetest"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

func pattern(id string, pt types.PatternType, conf float64, freq int) *types.Pattern {
	return &types.Pattern{ID: id, Type: pt, Confidence: conf, Frequency: freq, IsActive: true}
}

func TestAdaptSelectsCompatibleStrategies(t *testing.T) {
	ctx := context.Background()
	a := New(store.NewMemory(), types.DefaultConstraints())

	res, err := a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternUserBehavior, 0.8, 10)}, nil)
	require.NoError(t, err)

	assert.False(t, res.RequiresApproval)
	assert.Equal(t, []string{
		types.BehaviorID(StrategyResponseLength),
		types.BehaviorID(StrategyToneAdaptation),
		types.BehaviorID(StrategyPersonalization),
	}, res.BehaviorIDs)
	for _, ad := range res.Adaptations {
		assert.InDelta(t, 0.76, ad.ExpectedEffectiveness, 1e-9)
		assert.Equal(t, "p1", ad.PatternID)
	}
}

func TestAdaptFailurePatternRequiresApproval(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	a := New(repo, types.DefaultConstraints())

	res, err := a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternFailureAnalysis, 0.9, 40)}, nil)
	require.NoError(t, err)
	assert.True(t, res.RequiresApproval)
	assert.Len(t, res.BehaviorIDs, 4)

	b, err := repo.Behaviors().FindByID(ctx, types.BehaviorID(StrategyTimeoutAdjustment))
	require.NoError(t, err)
	assert.True(t, b.RequiresApproval)
	assert.False(t, b.Approved)
	assert.Equal(t, types.DefaultConstraints().SafetyBoundaries, b.SafetyConstraints)
}

func TestAdaptSkipsInactiveAndLowConfidence(t *testing.T) {
	inactive := pattern("p1", types.PatternInteraction, 0.95, 10)
	inactive.IsActive = false
	weak := pattern("p2", types.PatternInteraction, 0.5, 10)

	a := New(store.NewMemory(), types.DefaultConstraints())
	res, err := a.Adapt(context.Background(), []*types.Pattern{inactive, weak}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Adaptations)
	assert.Empty(t, res.BehaviorIDs)
}

func TestAdaptAveragesEffectivenessAcrossCycles(t *testing.T) {
	ctx := context.Background()
	for name, repo := range storetest.Backends(t) {
		t.Run(name, func(t *testing.T) {
			a := New(repo, types.DefaultConstraints())

			_, err := a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternContextMapping, 0.8, 10)}, nil)
			require.NoError(t, err)
			_, err = a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternContextMapping, 0.9, 50)}, nil)
			require.NoError(t, err)

			all, err := repo.Behaviors().FindByOptions(ctx, types.BehaviorFilter{Type: types.BehaviorStrategy})
			require.NoError(t, err)
			require.Len(t, all, 2)

			// 0.76 then min(1, 0.63+0.2+0.1) = 0.93
			for _, b := range all {
				assert.InDelta(t, (0.76+0.93)/2, b.EffectivenessScore, 1e-9, b.ID)
			}
		})
	}
}

func TestApplyBehaviorPrecedence(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	a := New(repo, types.DefaultConstraints())
	_, err := a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternFailureAnalysis, 0.9, 40)}, types.AdaptationContext{"avg_response_time": 2000})
	require.NoError(t, err)

	id := types.BehaviorID(StrategyTimeoutAdjustment)

	_, err = a.ApplyBehavior(ctx, "behavior_missing", nil)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = a.ApplyBehavior(ctx, id, nil)
	assert.True(t, errors.Is(err, types.ErrApprovalRequired))

	_, err = a.DeactivateBehavior(ctx, id, "test")
	require.NoError(t, err)
	_, err = a.ApplyBehavior(ctx, id, nil)
	assert.True(t, errors.Is(err, types.ErrBehaviorInactive), "inactive must win over approval, got %v", err)

	_, err = repo.Behaviors().Update(ctx, id, func(b *types.Behavior) { b.IsActive = true })
	require.NoError(t, err)
	_, err = a.ApproveBehavior(ctx, id, "admin")
	require.NoError(t, err)

	cfg, err := a.ApplyBehavior(ctx, id, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 6000, cfg["timeout_ms"])

	b, err := repo.Behaviors().FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, b.UsageCount)
	assert.Equal(t, 1, b.SuccessCount)
	require.NotNil(t, b.ApprovedAt)

	events, err := repo.Events().FindByOptions(ctx, types.EventFilter{Type: types.EventBehaviorApplied, EntityID: id})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordOutcomeUpdatesStatsAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	a := New(repo, types.DefaultConstraints(), WithHistoryLimits(4, 2))
	_, err := a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternUserBehavior, 0.8, 10)}, nil)
	require.NoError(t, err)

	id := types.BehaviorID(StrategyToneAdaptation)
	eff := 0.9
	for _, ok := range []bool{true, true, false, true, true} {
		_, err := a.RecordOutcome(ctx, id, ok, &eff)
		require.NoError(t, err)
	}

	b, err := repo.Behaviors().FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, b.UsageCount)
	assert.Equal(t, 4, b.SuccessCount)
	assert.InDelta(t, 0.8, b.EffectivenessScore, 1e-9)

	h := a.AdaptationHistory()
	require.Len(t, h, 2)
	assert.True(t, h[1].Success)
	require.NotNil(t, h[1].Effectiveness)
	assert.InDelta(t, 0.9, *h[1].Effectiveness, 1e-9)

	_, err = a.RecordOutcome(ctx, "behavior_missing", true, nil)
	assert.True(t, types.IsNotFound(err))
}

func TestStrategyFormulas(t *testing.T) {
	byID := map[string]Strategy{}
	for _, s := range BuiltinStrategies() {
		byID[s.ID] = s
	}

	cfg := byID[StrategyResponseLength].Apply(types.AdaptationContext{"average_engagement": 0.5})
	assert.Equal(t, 600, cfg["max_response_length"])
	assert.Equal(t, 100, cfg["min_response_length"])

	cfg = byID[StrategyTimeoutAdjustment].Apply(types.AdaptationContext{"avg_response_time": 30000, "error_rate": 0.2})
	assert.Equal(t, MaxTimeoutMS, cfg["timeout_ms"])
	assert.Equal(t, 3, cfg["max_retries"])

	cfg = byID[StrategyTimeoutAdjustment].Apply(nil)
	assert.Equal(t, 5000, cfg["timeout_ms"])

	cfg = byID[StrategyCacheTTLTuning].Apply(types.AdaptationContext{"cache_hit_rate": 1})
	assert.Equal(t, 3600, cfg["ttl_seconds"])

	cfg = byID[StrategyPersonalization].Apply(types.AdaptationContext{"user_satisfaction": 1, "interaction_count": 50})
	assert.InDelta(t, 0.8, cfg["personalization_level"], 1e-9)

	cfg = byID[StrategyToolParameterTuning].Apply(types.AdaptationContext{"avg_tool_latency": 100000})
	assert.Equal(t, MaxTimeoutMS, cfg["tool_timeout_ms"])

	for id, s := range byID {
		c := s.Apply(nil)
		assert.True(t, s.Validate(c), "%s default config invalid", id)
		assert.True(t, s.SafetyCheck(c), "%s default config unsafe", id)
	}
}

func TestUnsafeStrategyIsSkipped(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	a := New(repo, types.DefaultConstraints())
	require.NoError(t, a.RegisterStrategy(Strategy{
		ID:          "unbounded_timeout",
		Type:        types.BehaviorResponse,
		Apply:       func(types.AdaptationContext) map[string]any { return map[string]any{"timeout_ms": 120000} },
		Validate:    func(map[string]any) bool { return true },
		SafetyCheck: func(cfg map[string]any) bool {
			v, _ := num(cfg, "timeout_ms")
			return v <= MaxTimeoutMS
		},
	}))

	res, err := a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternInteraction, 0.9, 5)}, nil)
	require.NoError(t, err)
	assert.NotContains(t, res.BehaviorIDs, types.BehaviorID("unbounded_timeout"))
	assert.Len(t, res.BehaviorIDs, 3)

	_, err = repo.Behaviors().FindByID(ctx, types.BehaviorID("unbounded_timeout"))
	assert.True(t, types.IsNotFound(err))
}

func TestRegisterStrategyRejectsUnknownType(t *testing.T) {
	a := New(store.NewMemory(), types.DefaultConstraints())
	err := a.RegisterStrategy(Strategy{
		ID:          "x",
		Type:        "magic",
		Apply:       func(types.AdaptationContext) map[string]any { return nil },
		Validate:    func(map[string]any) bool { return true },
		SafetyCheck: func(map[string]any) bool { return true },
	})
	assert.True(t, errors.Is(err, types.ErrInvalid))
}

func TestMaxBehaviorsLimitsCreation(t *testing.T) {
	ctx := context.Background()
	c := types.DefaultConstraints()
	c.MaxBehaviors = 2
	repo := store.NewMemory()
	a := New(repo, c)

	res, err := a.Adapt(ctx, []*types.Pattern{pattern("p1", types.PatternUserBehavior, 0.9, 5)}, nil)
	require.NoError(t, err)
	assert.Len(t, res.BehaviorIDs, 2)
}

func TestRegisterCapabilitiesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	a := New(repo, types.DefaultConstraints())

	n, err := a.RegisterCapabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, err = a.RegisterCapabilities(ctx)
	require.NoError(t, err)

	count, err := repo.Capabilities().Count(ctx, types.CapabilityFilter{})
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	tools, err := repo.Capabilities().FindByOptions(ctx, types.CapabilityFilter{BehaviorType: types.BehaviorToolUsage, EnabledOnly: true})
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}
