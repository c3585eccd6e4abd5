package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraintsApplyPartial(t *testing.T) {
	base := DefaultConstraints()
	conf := 0.9
	off := false

	got := base.Apply(ConstraintsUpdate{
		MinConfidenceThreshold: &conf,
		BiasDetection:          &off,
		ForbiddenPatterns:      []string{"peak_activity_hours"},
	})

	want := base.Clone()
	want.MinConfidenceThreshold = 0.9
	want.BiasDetection = false
	want.ForbiddenPatterns = []string{"peak_activity_hours"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0.7, base.MinConfidenceThreshold, "receiver must be unchanged")
}

func TestConstraintsCloneDoesNotAlias(t *testing.T) {
	base := DefaultConstraints()
	c := base.Clone()
	c.RequireApprovalFor[0] = BehaviorResponse
	c.SafetyBoundaries = append(c.SafetyBoundaries, "extra")

	assert.Equal(t, BehaviorParameter, base.RequireApprovalFor[0])
	assert.Len(t, base.SafetyBoundaries, 3)
}

func TestFullUpdateReplacesEverything(t *testing.T) {
	next := DefaultConstraints()
	next.MaxPatterns = 5
	next.RequireApprovalFor = nil
	next.PrivacyProtection = false

	got := DefaultConstraints().Apply(FullUpdate(next))
	assert.Equal(t, 5, got.MaxPatterns)
	assert.Empty(t, got.RequireApprovalFor)
	assert.False(t, got.PrivacyProtection)
	assert.False(t, got.RequiresApproval(BehaviorParameter))
}

func TestRequiresApprovalAndForbidden(t *testing.T) {
	c := DefaultConstraints()
	assert.True(t, c.RequiresApproval(BehaviorParameter))
	assert.True(t, c.RequiresApproval(BehaviorToolUsage))
	assert.False(t, c.RequiresApproval(BehaviorStrategy))

	assert.False(t, c.IsForbidden("frequent_command_usage"))
	c.ForbiddenPatterns = []string{"frequent_command_usage"}
	assert.True(t, c.IsForbidden("frequent_command_usage"))
}

func TestCompatibility(t *testing.T) {
	assert.True(t, IsCompatible(PatternUserBehavior, BehaviorStrategy))
	assert.False(t, IsCompatible(PatternUserBehavior, BehaviorParameter))
	assert.True(t, IsCompatible(PatternFailureAnalysis, BehaviorParameter))
	assert.Nil(t, CompatibleBehaviorTypes("unknown"))

	got := CompatibleBehaviorTypes(PatternSuccessMetric)
	got[0] = BehaviorParameter
	assert.True(t, IsCompatible(PatternSuccessMetric, BehaviorStrategy), "returned slice must be a copy")
}

func TestBehaviorRecordUsage(t *testing.T) {
	b := &Behavior{}
	b.RecordUsage(true)
	b.RecordUsage(true)
	b.RecordUsage(false)
	assert.Equal(t, 3, b.UsageCount)
	assert.Equal(t, 2, b.SuccessCount)
	assert.Equal(t, 1, b.FailureCount)
	assert.InDelta(t, 2.0/3.0, b.EffectivenessScore, 1e-9)
}

func TestBehaviorGated(t *testing.T) {
	b := &Behavior{RequiresApproval: true}
	assert.True(t, b.Gated())
	b.Approved = true
	assert.False(t, b.Gated())
	assert.False(t, (&Behavior{}).Gated())
}

func TestBehaviorFilterMatches(t *testing.T) {
	b := &Behavior{Type: BehaviorStrategy, IsActive: true, EffectivenessScore: 0.8}
	assert.True(t, BehaviorFilter{}.Matches(b))
	assert.True(t, BehaviorFilter{Type: BehaviorStrategy, ActiveOnly: true, MinEffectiveness: 0.8}.Matches(b))
	assert.False(t, BehaviorFilter{Type: BehaviorParameter}.Matches(b))
	assert.False(t, BehaviorFilter{MinEffectiveness: 0.9}.Matches(b))
	assert.False(t, BehaviorFilter{PendingApproval: true}.Matches(b))

	b.IsActive = false
	assert.False(t, BehaviorFilter{ActiveOnly: true}.Matches(b))
}

func TestKnowledgePrivacyConsistent(t *testing.T) {
	tests := []struct {
		name string
		k    Knowledge
		want bool
	}{
		{"public", Knowledge{PrivacyLevel: PrivacyPublic}, true},
		{"guild with id", Knowledge{PrivacyLevel: PrivacyGuildOnly, GuildID: "G1"}, true},
		{"guild without id", Knowledge{PrivacyLevel: PrivacyGuildOnly}, false},
		{"user with id", Knowledge{PrivacyLevel: PrivacyUserOnly, UserID: "U1"}, true},
		{"user without id", Knowledge{PrivacyLevel: PrivacyUserOnly}, false},
		{"private", Knowledge{PrivacyLevel: PrivacyPrivate}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.k.PrivacyConsistent())
		})
	}
	assert.False(t, PrivacyLevel("secret").Valid())
}

func TestKnowledgeExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	k := &Knowledge{}
	assert.False(t, k.Expired(now))

	at := now
	k.ExpiresAt = &at
	assert.True(t, k.Expired(now))

	later := now.Add(time.Hour)
	k.ExpiresAt = &later
	assert.False(t, k.Expired(now))
}

func TestForgettingCriteriaEmpty(t *testing.T) {
	assert.True(t, ForgettingCriteria{}.Empty())
	assert.True(t, ForgettingCriteria{Types: []KnowledgeType{KnowledgePattern}}.Empty(), "types only scope")
	conf := 0.3
	assert.False(t, ForgettingCriteria{BelowConfidence: &conf}.Empty())
	assert.False(t, ForgettingCriteria{Expired: true}.Empty())
}

func TestConversionRate(t *testing.T) {
	assert.Zero(t, (&ABTestVariant{}).ConversionRate())
	assert.Equal(t, 0.25, (&ABTestVariant{Participants: 8, Conversions: 2}).ConversionRate())
}

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("create: %w", Invalidf("title %s", "missing"))
	assert.ErrorIs(t, err, ErrInvalid)
	var inv *InvalidError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "title missing", inv.Reason)

	nf := NotFound("behavior", "behavior_x")
	assert.True(t, IsNotFound(nf))
	assert.Contains(t, nf.Error(), `behavior "behavior_x"`)
	assert.False(t, IsNotFound(ErrInvalid))
}
