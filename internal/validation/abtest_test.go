package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavinciDreams/Megawatts-sub008/internal/store/storetest"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// sequence returns a random source cycling through vals.
func sequence(vals ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := vals[i%len(vals)]
		i++
		return v
	}
}

func ptr(f float64) *float64 { return &f }

func twoArms(a, b float64, controlA, controlB bool) types.ABTestConfig {
	return types.ABTestConfig{
		Name:            "reply length",
		Hypothesis:      "shorter replies convert better",
		SuccessCriteria: []string{"conversion_rate"},
		Variants: []types.ABTestVariantConfig{
			{ID: "A", Name: "short", AllocationPercentage: a, IsControl: controlA},
			{ID: "B", Name: "long", AllocationPercentage: b, IsControl: controlB},
		},
	}
}

func TestCreateABTestAllocationRules(t *testing.T) {
	v, _ := newValidator(t)

	tests := []struct {
		name    string
		cfg     types.ABTestConfig
		wantErr bool
	}{
		{"sum 99", twoArms(49, 50, true, false), true},
		{"sum 101", twoArms(51, 50, true, false), true},
		{"two controls", twoArms(50, 50, true, true), true},
		{"no control", twoArms(50, 50, false, false), true},
		{"within tolerance", twoArms(50.005, 50, true, false), false},
		{"valid", twoArms(50, 50, true, false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := v.CreateABTest(tt.cfg)
			if tt.wantErr {
				assert.True(t, errors.Is(err, types.ErrInvalid), "got %v", err)
				assert.Nil(t, exp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.ExperimentDraft, exp.Status)
			assert.Len(t, exp.Variants, 2)
		})
	}
}

func TestCreateABTestRequiredFields(t *testing.T) {
	v, _ := newValidator(t)

	one := twoArms(100, 0, true, false)
	one.Variants = one.Variants[:1]
	_, err := v.CreateABTest(one)
	assert.True(t, errors.Is(err, types.ErrInvalid))

	noHypothesis := twoArms(50, 50, true, false)
	noHypothesis.Hypothesis = ""
	_, err = v.CreateABTest(noHypothesis)
	assert.True(t, errors.Is(err, types.ErrInvalid))

	noCriteria := twoArms(50, 50, true, false)
	noCriteria.SuccessCriteria = nil
	_, err = v.CreateABTest(noCriteria)
	assert.True(t, errors.Is(err, types.ErrInvalid))

	dup := twoArms(50, 50, true, false)
	dup.Variants[1].ID = "A"
	_, err = v.CreateABTest(dup)
	assert.True(t, errors.Is(err, types.ErrInvalid))

	assert.Empty(t, v.ListExperiments())
}

func TestExperimentLifecycle(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	_, err := v.StartABTest("missing")
	assert.True(t, types.IsNotFound(err))

	exp, err := v.CreateABTest(twoArms(50, 50, true, false))
	require.NoError(t, err)

	_, err = v.AssignVariant(ctx, exp.ID, "U1", "")
	assert.True(t, errors.Is(err, types.ErrExperimentNotRunning))

	started, err := v.StartABTest(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentRunning, started.Status)
	require.NotNil(t, started.StartDate)

	_, err = v.StartABTest(exp.ID)
	assert.True(t, errors.Is(err, types.ErrInvalid))

	_, err = v.PauseABTest(exp.ID)
	require.NoError(t, err)
	_, err = v.AssignVariant(ctx, exp.ID, "U1", "")
	assert.True(t, errors.Is(err, types.ErrExperimentNotRunning))

	_, err = v.ResumeABTest(exp.ID)
	require.NoError(t, err)
	done, err := v.CompleteABTest(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentCompleted, done.Status)
	require.NotNil(t, done.EndDate)

	_, err = v.CancelABTest(exp.ID)
	assert.True(t, errors.Is(err, types.ErrInvalid))

	got, err := v.GetExperiment(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExperimentCompleted, got.Status)
}

func TestAssignVariantIsSticky(t *testing.T) {
	ctx := context.Background()
	for name, repo := range storetest.Backends(t) {
		t.Run(name, func(t *testing.T) {
			v := New(repo, types.DefaultConstraints(), WithRandom(sequence(0.2, 0.9)))

			exp, err := v.CreateABTest(twoArms(50, 50, true, false))
			require.NoError(t, err)
			_, err = v.StartABTest(exp.ID)
			require.NoError(t, err)

			first, err := v.AssignVariant(ctx, exp.ID, "U1", "G1")
			require.NoError(t, err)
			assert.Equal(t, "A", first.VariantID)

			again, err := v.AssignVariant(ctx, exp.ID, "U1", "G1")
			require.NoError(t, err)
			assert.Equal(t, first.VariantID, again.VariantID)

			other, err := v.AssignVariant(ctx, exp.ID, "U2", "G1")
			require.NoError(t, err)
			assert.Equal(t, "B", other.VariantID)

			got, err := v.GetExperiment(exp.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.Variant("A").Participants)
			assert.Equal(t, 1, got.Variant("B").Participants)

			n, err := repo.Events().Count(ctx, types.EventFilter{Type: types.EventABAssignment, EntityID: exp.ID})
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestPickVariantRoulette(t *testing.T) {
	variants := []*types.ABTestVariant{
		{ID: "A", AllocationPercentage: 20},
		{ID: "B", AllocationPercentage: 30},
		{ID: "C", AllocationPercentage: 50},
	}
	assert.Equal(t, "A", pickVariant(variants, 0).ID)
	assert.Equal(t, "A", pickVariant(variants, 19.99).ID)
	assert.Equal(t, "B", pickVariant(variants, 20).ID)
	assert.Equal(t, "C", pickVariant(variants, 99.99).ID)
	assert.Equal(t, "C", pickVariant(variants, 100).ID)
}

// runExperiment assigns 2n users alternately to A and B, then records the
// given conversion counts.
func runExperiment(t *testing.T, v *Validator, n, convA, convB int) string {
	t.Helper()
	ctx := context.Background()
	exp, err := v.CreateABTest(twoArms(50, 50, true, false))
	require.NoError(t, err)
	_, err = v.StartABTest(exp.ID)
	require.NoError(t, err)

	for i := 0; i < 2*n; i++ {
		_, err := v.AssignVariant(ctx, exp.ID, fmt.Sprintf("U%d", i), "")
		require.NoError(t, err)
	}
	for i := 0; i < convA; i++ {
		require.NoError(t, v.RecordConversion(ctx, exp.ID, "A", fmt.Sprintf("U%d", 2*i), nil, nil))
	}
	for i := 0; i < convB; i++ {
		require.NoError(t, v.RecordConversion(ctx, exp.ID, "B", fmt.Sprintf("U%d", 2*i+1), nil, nil))
	}
	return exp.ID
}

func TestAnalyzeABTestSignificant(t *testing.T) {
	v, _ := newValidator(t, WithRandom(sequence(0.1, 0.9)))

	id := runExperiment(t, v, 20, 12, 4)
	a, err := v.AnalyzeABTest(context.Background(), id)
	require.NoError(t, err)

	require.NotNil(t, a.Winner)
	assert.Equal(t, "A", a.Winner.VariantID)
	assert.InDelta(t, 0.6, a.Winner.ConversionRate, 1e-9)
	assert.True(t, a.IsSignificant)
	assert.Equal(t, "B", a.Results[1].VariantID)
	assert.Equal(t, 20, a.Results[1].Participants)
}

func TestAnalyzeABTestNotSignificant(t *testing.T) {
	t.Run("no gap", func(t *testing.T) {
		v, _ := newValidator(t, WithRandom(sequence(0.1, 0.9)))
		id := runExperiment(t, v, 20, 11, 11)
		a, err := v.AnalyzeABTest(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, a.IsSignificant)
		require.NotNil(t, a.Winner)
		assert.Equal(t, "A", a.Winner.VariantID)
	})

	t.Run("too few conversions", func(t *testing.T) {
		v, _ := newValidator(t, WithRandom(sequence(0.1, 0.9)))
		id := runExperiment(t, v, 10, 5, 1)
		a, err := v.AnalyzeABTest(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, a.IsSignificant)
		assert.Len(t, a.Recommendations, 2)
	})
}

func TestRecordConversionRatingsAndMetrics(t *testing.T) {
	v, _ := newValidator(t, WithRandom(sequence(0.1)))
	ctx := context.Background()

	exp, err := v.CreateABTest(twoArms(50, 50, true, false))
	require.NoError(t, err)
	_, err = v.StartABTest(exp.ID)
	require.NoError(t, err)

	require.NoError(t, v.RecordConversion(ctx, exp.ID, "A", "U1", ptr(4), map[string]float64{"messages": 3}))
	require.NoError(t, v.RecordConversion(ctx, exp.ID, "A", "U2", ptr(5), map[string]float64{"messages": 2}))
	require.NoError(t, v.RecordConversion(ctx, exp.ID, "A", "U3", nil, nil))

	got, err := v.GetExperiment(exp.ID)
	require.NoError(t, err)
	a := got.Variant("A")
	assert.Equal(t, 3, a.Conversions)
	assert.Equal(t, 2, a.RatingCount)
	assert.InDelta(t, 4.5, a.AverageRating, 1e-9)
	assert.InDelta(t, 5, a.CustomMetrics["messages"], 1e-9)

	analysis, err := v.AnalyzeABTest(ctx, exp.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, analysis.Confidence, 1e-9)

	err = v.RecordConversion(ctx, exp.ID, "Z", "U1", nil, nil)
	assert.True(t, types.IsNotFound(err))
	err = v.RecordConversion(ctx, "missing", "A", "U1", nil, nil)
	assert.True(t, types.IsNotFound(err))
}

// Unrated conversions count toward conversions only; the average rating is
// taken over rated conversions.
func TestAverageRatingIgnoresUnratedConversions(t *testing.T) {
	v, _ := newValidator(t, WithRandom(sequence(0.1)))
	ctx := context.Background()

	exp, err := v.CreateABTest(twoArms(50, 50, true, false))
	require.NoError(t, err)
	_, err = v.StartABTest(exp.ID)
	require.NoError(t, err)

	for i, rating := range []*float64{nil, ptr(2), nil, ptr(4)} {
		require.NoError(t, v.RecordConversion(ctx, exp.ID, "B", fmt.Sprintf("U%d", i), rating, nil))
	}

	got, err := v.GetExperiment(exp.ID)
	require.NoError(t, err)
	b := got.Variant("B")
	assert.Equal(t, 4, b.Conversions)
	assert.Equal(t, 2, b.RatingCount)
	assert.InDelta(t, 3.0, b.AverageRating, 1e-9)

	require.NoError(t, v.RecordConversion(ctx, exp.ID, "B", "U9", ptr(0), nil))
	got, err = v.GetExperiment(exp.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got.Variant("B").AverageRating, 1e-9, "a zero rating still counts")
}

func TestCreateABTestDefaultsVariantNames(t *testing.T) {
	v, _ := newValidator(t)

	cfg := twoArms(50, 50, true, false)
	cfg.Variants[0] = types.ABTestVariantConfig{AllocationPercentage: 50, IsControl: true}
	cfg.Variants[1].Name = ""

	exp, err := v.CreateABTest(cfg)
	require.NoError(t, err)
	require.Len(t, exp.Variants, 2)
	assert.Equal(t, "variant_1", exp.Variants[0].ID)
	assert.Equal(t, "variant_1", exp.Variants[0].Name)
	assert.Equal(t, "B", exp.Variants[1].ID)
	assert.Equal(t, "B", exp.Variants[1].Name)
}

func TestGetExperimentReturnsCopy(t *testing.T) {
	v, _ := newValidator(t)
	exp, err := v.CreateABTest(twoArms(50, 50, true, false))
	require.NoError(t, err)

	exp.Variants[0].Conversions = 99
	got, err := v.GetExperiment(exp.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Variants[0].Conversions)
}
