package validation

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newValidator(t *testing.T, opts ...Option) (*Validator, store.Repository) {
	t.Helper()
	repo := store.NewMemory()
	t.Cleanup(func() { _ = repo.Close() })
	return New(repo, types.DefaultConstraints(), opts...), repo
}

func TestValidatePatternClean(t *testing.T) {
	v, repo := newValidator(t)
	ctx := context.Background()

	p := &types.Pattern{
		ID:         "question_response_pattern",
		Type:       types.PatternInteraction,
		Name:       "Question Response",
		Confidence: 0.8,
		Examples: []types.PatternExample{
			{Data: types.Interaction{Content: "how do I join voice?", UserID: "U1"}},
		},
	}
	res, err := v.ValidatePattern(ctx, p)
	require.NoError(t, err)

	assert.True(t, res.IsValid)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.Len(t, res.SafetyChecks, 3)
	assert.Equal(t, 3, res.SafetyPassed())
	assert.NotEmpty(t, res.Explanation)

	events, err := repo.Events().FindByOptions(ctx, types.EventFilter{Type: types.EventValidation, EntityID: p.ID})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, v.History(p.ID), 1)
}

func TestValidatePatternUserDataExposure(t *testing.T) {
	v, _ := newValidator(t)

	p := &types.Pattern{
		ID:         "p1",
		Type:       types.PatternInteraction,
		Name:       "Password resets",
		Confidence: 0.9,
	}
	res, err := v.ValidatePattern(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	assert.InDelta(t, 0.4*2.0/3.0+0.3+0.15+0.15, res.Confidence, 1e-9)
	for _, c := range res.SafetyChecks {
		assert.Equal(t, types.SeverityHigh, c.Severity)
		assert.Equal(t, c.Name != types.BoundaryNoUserDataExposure, c.Passed, c.Name)
	}
}

func TestValidatePatternBelowThreshold(t *testing.T) {
	v, _ := newValidator(t)

	res, err := v.ValidatePattern(context.Background(), &types.Pattern{ID: "p1", Name: "weak", Confidence: 0.5})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.False(t, res.MeetsThreshold)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
}

func TestValidateBehavior(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	good := &types.Behavior{
		ID:                 "behavior_timeout_adjustment",
		StrategyID:         "timeout_adjustment",
		Type:               types.BehaviorParameter,
		Config:             map[string]any{"timeout_ms": 5000, "max_retries": 2},
		EffectivenessScore: 0.76,
	}
	res, err := v.ValidateBehavior(ctx, good)
	require.NoError(t, err)
	assert.True(t, res.IsValid)

	bad := &types.Behavior{
		ID:                 "behavior_x",
		StrategyID:         "x",
		Type:               types.BehaviorStrategy,
		Config:             map[string]any{"command": "sudo systemctl restart"},
		EffectivenessScore: 0.3,
	}
	res, err = v.ValidateBehavior(ctx, bad)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.False(t, res.MeetsThreshold)
	assert.InDelta(t, 0.4*2.0/3.0+0.15+0.15, res.Confidence, 1e-9)
	assert.NotEmpty(t, res.Recommendations)
}

func TestValidateKnowledgePrivacy(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	scoped := &types.Knowledge{
		ID:           "k1",
		Title:        "Prefers short answers",
		Content:      "Keep replies brief",
		Confidence:   0.9,
		PrivacyLevel: types.PrivacyUserOnly,
		UserID:       "U1",
	}
	res, err := v.ValidateKnowledge(ctx, scoped)
	require.NoError(t, err)
	assert.True(t, res.IsValid, res.Issues)

	unscoped := *scoped
	unscoped.ID = "k2"
	unscoped.UserID = ""
	res, err = v.ValidateKnowledge(ctx, &unscoped)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.False(t, res.PrivacyCompliant)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
}

func TestBiasDetection(t *testing.T) {
	ctx := context.Background()
	k := &types.Knowledge{
		ID:           "k1",
		Title:        "Moderation note",
		Content:      "All immigrants are troublemakers",
		Confidence:   0.9,
		PrivacyLevel: types.PrivacyPublic,
	}

	v, _ := newValidator(t)
	res, err := v.ValidateKnowledge(ctx, k)
	require.NoError(t, err)
	assert.True(t, res.BiasDetected)
	assert.False(t, res.IsValid)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)

	off := false
	v.UpdateConstraints(types.ConstraintsUpdate{BiasDetection: &off})
	res, err = v.ValidateKnowledge(ctx, k)
	require.NoError(t, err)
	assert.False(t, res.BiasDetected)
	assert.True(t, res.IsValid)
}

func TestCustomSafetyChecks(t *testing.T) {
	check := &RegexCheck{
		CheckName: "no_links",
		Level:     types.SeverityMedium,
		Pattern:   regexp.MustCompile(`https?://`),
	}
	v, _ := newValidator(t, WithSafetyChecks(check))

	res, err := v.ValidateKnowledge(context.Background(), &types.Knowledge{
		ID:           "k1",
		Title:        "docs",
		Content:      "see https://example.com",
		Confidence:   0.9,
		PrivacyLevel: types.PrivacyPublic,
	})
	require.NoError(t, err)
	require.Len(t, res.SafetyChecks, 1)
	assert.False(t, res.SafetyChecks[0].Passed)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
}

func TestHistoryIsBounded(t *testing.T) {
	v, _ := newValidator(t, WithHistoryPerEntity(2))
	p := &types.Pattern{ID: "p1", Name: "ok", Confidence: 0.9}
	for i := 0; i < 5; i++ {
		_, err := v.ValidatePattern(context.Background(), p)
		require.NoError(t, err)
	}
	assert.Len(t, v.History("p1"), 2)
	assert.Empty(t, v.History("other"))
}

func TestValidateHonorsCancelledContext(t *testing.T) {
	v, _ := newValidator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := v.ValidatePattern(ctx, &types.Pattern{ID: "p1", Confidence: 0.9})
	assert.True(t, errors.Is(err, context.Canceled))
}
