package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/metrics"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Analysis thresholds.
const (
	SignificanceGap            = 0.05
	SignificanceMinConversions = 10
	allocationTolerance        = 0.01
)

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateAllocations, types.ABTestConfig{})
	return v
}

// validateAllocations requires allocations summing to 100 and exactly one
// control variant.
func validateAllocations(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(types.ABTestConfig)
	sum, controls := 0.0, 0
	for _, vc := range cfg.Variants {
		sum += vc.AllocationPercentage
		if vc.IsControl {
			controls++
		}
	}
	if math.Abs(sum-100) > allocationTolerance {
		sl.ReportError(cfg.Variants, "Variants", "variants", "allocation_sum", fmt.Sprintf("%.2f", sum))
	}
	if controls != 1 {
		sl.ReportError(cfg.Variants, "Variants", "variants", "one_control", fmt.Sprintf("%d", controls))
	}
}

func configError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.Invalidf("invalid A/B test config: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "allocation_sum":
			msgs = append(msgs, fmt.Sprintf("variant allocations sum to %s, want 100", fe.Param()))
		case "one_control":
			msgs = append(msgs, fmt.Sprintf("%s control variants, want exactly 1", fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return types.Invalidf("invalid A/B test config: %s", strings.Join(msgs, "; "))
}

// CreateABTest validates cfg and stores a draft experiment.
func (v *Validator) CreateABTest(cfg types.ABTestConfig) (*types.ABTestExperiment, error) {
	if err := v.structs.Struct(cfg); err != nil {
		return nil, configError(err)
	}

	exp := &types.ABTestExperiment{
		ID:              uuid.NewString(),
		Name:            cfg.Name,
		Description:     cfg.Description,
		Hypothesis:      cfg.Hypothesis,
		SuccessCriteria: append([]string(nil), cfg.SuccessCriteria...),
		BehaviorID:      cfg.BehaviorID,
		Status:          types.ExperimentDraft,
		CreatedAt:       v.now(),
	}
	seen := make(map[string]bool)
	for i, vc := range cfg.Variants {
		id := vc.ID
		if id == "" {
			id = fmt.Sprintf("variant_%d", i+1)
		}
		if seen[id] {
			return nil, types.Invalidf("invalid A/B test config: duplicate variant id %q", id)
		}
		seen[id] = true
		name := vc.Name
		if name == "" {
			name = id
		}
		exp.Variants = append(exp.Variants, &types.ABTestVariant{
			ID:                   id,
			Name:                 name,
			Description:          vc.Description,
			AllocationPercentage: vc.AllocationPercentage,
			IsControl:            vc.IsControl,
			Config:               vc.Config,
			CustomMetrics:        make(map[string]float64),
		})
	}

	v.abMu.Lock()
	v.experiments[exp.ID] = exp
	v.expOrder = append(v.expOrder, exp.ID)
	v.abMu.Unlock()

	logging.ABTest("Created experiment %s (%q) with %d variants", exp.ID, exp.Name, len(exp.Variants))
	return copyExperiment(exp), nil
}

// StartABTest moves a draft experiment to running.
func (v *Validator) StartABTest(id string) (*types.ABTestExperiment, error) {
	return v.transition(id, types.ExperimentRunning, types.ExperimentDraft)
}

// PauseABTest stops assigning new users to a running experiment.
func (v *Validator) PauseABTest(id string) (*types.ABTestExperiment, error) {
	return v.transition(id, types.ExperimentPaused, types.ExperimentRunning)
}

// ResumeABTest restarts a paused experiment.
func (v *Validator) ResumeABTest(id string) (*types.ABTestExperiment, error) {
	return v.transition(id, types.ExperimentRunning, types.ExperimentPaused)
}

// CompleteABTest ends a running or paused experiment.
func (v *Validator) CompleteABTest(id string) (*types.ABTestExperiment, error) {
	return v.transition(id, types.ExperimentCompleted, types.ExperimentRunning, types.ExperimentPaused)
}

// CancelABTest abandons an experiment that has not completed.
func (v *Validator) CancelABTest(id string) (*types.ABTestExperiment, error) {
	return v.transition(id, types.ExperimentCancelled, types.ExperimentDraft, types.ExperimentRunning, types.ExperimentPaused)
}

func (v *Validator) transition(id string, to types.ExperimentStatus, from ...types.ExperimentStatus) (*types.ABTestExperiment, error) {
	v.abMu.Lock()
	defer v.abMu.Unlock()

	exp, ok := v.experiments[id]
	if !ok {
		return nil, types.NotFound("experiment", id)
	}
	allowed := false
	for _, s := range from {
		if exp.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, types.Invalidf("experiment %s cannot move from %s to %s", id, exp.Status, to)
	}

	prev := exp.Status
	exp.Status = to
	now := v.now()
	switch to {
	case types.ExperimentRunning:
		if exp.StartDate == nil {
			exp.StartDate = &now
		}
	case types.ExperimentCompleted, types.ExperimentCancelled:
		exp.EndDate = &now
	}

	logging.Audit(logging.CategoryABTest).ExperimentTransition(id, string(prev), string(to))
	logging.ABTest("Experiment %s: %s -> %s", id, prev, to)
	return copyExperiment(exp), nil
}

// AssignVariant returns the variant for a user in a running experiment.
// A user keeps the variant of their first assignment. Experiments that are
// not running return types.ErrExperimentNotRunning and assign nothing.
func (v *Validator) AssignVariant(ctx context.Context, experimentID, userID, guildID string) (*types.ABTestAssignment, error) {
	if userID == "" {
		return nil, types.Invalidf("user id is required for assignment")
	}

	v.abMu.Lock()
	defer v.abMu.Unlock()

	exp, ok := v.experiments[experimentID]
	if !ok {
		return nil, types.NotFound("experiment", experimentID)
	}
	if exp.Status != types.ExperimentRunning {
		return nil, fmt.Errorf("experiment %s is %s: %w", experimentID, exp.Status, types.ErrExperimentNotRunning)
	}

	prior, err := v.repo.Events().FindByOptions(ctx, types.EventFilter{
		Type:     types.EventABAssignment,
		EntityID: experimentID,
		UserID:   userID,
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("look up assignment for %s: %w", userID, err)
	}
	if len(prior) > 0 {
		variantID, _ := prior[0].Details["variant_id"].(string)
		logging.ABTestDebug("User %s already assigned to %s in %s", userID, variantID, experimentID)
		return &types.ABTestAssignment{
			ExperimentID: experimentID,
			VariantID:    variantID,
			UserID:       userID,
			GuildID:      prior[0].GuildID,
			AssignedAt:   prior[0].CreatedAt,
		}, nil
	}

	variant := pickVariant(exp.Variants, v.random()*100)
	assignment := &types.ABTestAssignment{
		ExperimentID: experimentID,
		VariantID:    variant.ID,
		UserID:       userID,
		GuildID:      guildID,
		AssignedAt:   v.now(),
	}
	_, err = v.repo.Events().Create(ctx, &types.LearningEvent{
		ID:         uuid.NewString(),
		Type:       types.EventABAssignment,
		EntityID:   experimentID,
		EntityType: "ab_test",
		UserID:     userID,
		GuildID:    guildID,
		Details:    map[string]any{"variant_id": variant.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("record assignment for %s: %w", userID, err)
	}

	variant.Participants++
	metrics.RecordAssignment(experimentID, variant.ID)
	logging.ABTestDebug("Assigned user %s to %s in %s", userID, variant.ID, experimentID)
	return assignment, nil
}

// pickVariant walks cumulative allocations; roll is in [0,100).
func pickVariant(variants []*types.ABTestVariant, roll float64) *types.ABTestVariant {
	cum := 0.0
	for _, vr := range variants {
		cum += vr.AllocationPercentage
		if roll < cum {
			return vr
		}
	}
	return variants[len(variants)-1]
}

// RecordConversion counts a conversion for a variant. A rating is folded into
// the variant's running average; custom metrics are summed per key.
func (v *Validator) RecordConversion(ctx context.Context, experimentID, variantID, userID string, rating *float64, custom map[string]float64) error {
	v.abMu.Lock()
	defer v.abMu.Unlock()

	exp, ok := v.experiments[experimentID]
	if !ok {
		return types.NotFound("experiment", experimentID)
	}
	if exp.Status != types.ExperimentRunning && exp.Status != types.ExperimentPaused {
		return fmt.Errorf("experiment %s is %s: %w", experimentID, exp.Status, types.ErrExperimentNotRunning)
	}
	variant := exp.Variant(variantID)
	if variant == nil {
		return types.NotFound("variant", variantID)
	}

	variant.Conversions++
	if rating != nil {
		variant.RatingCount++
		n := float64(variant.RatingCount)
		variant.AverageRating = (variant.AverageRating*(n-1) + *rating) / n
	}
	for k, val := range custom {
		variant.CustomMetrics[k] += val
	}

	details := map[string]any{"variant_id": variantID}
	if rating != nil {
		details["rating"] = *rating
	}
	_, err := v.repo.Events().Create(ctx, &types.LearningEvent{
		ID:         uuid.NewString(),
		Type:       types.EventABConversion,
		EntityID:   experimentID,
		EntityType: "ab_test",
		UserID:     userID,
		Details:    details,
	})
	if err != nil {
		logging.ABTestWarn("Failed to record conversion event for %s/%s: %v", experimentID, variantID, err)
	}
	metrics.RecordConversion(experimentID, variantID)
	return nil
}

// AnalyzeABTest ranks variants by conversion rate. The result is significant
// when the leader beats the runner-up by at least SignificanceGap and has at
// least SignificanceMinConversions conversions. Confidence carries the
// winner's average rating.
func (v *Validator) AnalyzeABTest(ctx context.Context, experimentID string) (*types.ABTestAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.abMu.Lock()
	exp, ok := v.experiments[experimentID]
	if !ok {
		v.abMu.Unlock()
		return nil, types.NotFound("experiment", experimentID)
	}
	exp = copyExperiment(exp)
	v.abMu.Unlock()

	a := &types.ABTestAnalysis{
		ExperimentID: experimentID,
		Results:      make([]types.VariantResult, 0, len(exp.Variants)),
		AnalyzedAt:   v.now(),
	}
	for _, vr := range exp.Variants {
		a.Results = append(a.Results, types.VariantResult{
			VariantID:      vr.ID,
			Name:           vr.Name,
			IsControl:      vr.IsControl,
			Participants:   vr.Participants,
			Conversions:    vr.Conversions,
			ConversionRate: vr.ConversionRate(),
			AverageRating:  vr.AverageRating,
			CustomMetrics:  vr.CustomMetrics,
		})
	}
	sort.SliceStable(a.Results, func(i, j int) bool {
		return a.Results[i].ConversionRate > a.Results[j].ConversionRate
	})

	if len(a.Results) > 0 {
		w := a.Results[0]
		a.Winner = &w
		a.Confidence = w.AverageRating
	}
	if len(a.Results) >= 2 {
		gap := a.Results[0].ConversionRate - a.Results[1].ConversionRate
		a.IsSignificant = gap >= SignificanceGap && a.Results[0].Conversions >= SignificanceMinConversions
	}
	a.Recommendations = analysisRecommendations(a)

	logging.ABTest("Analyzed %s: winner=%s significant=%v", experimentID, winnerID(a), a.IsSignificant)
	return a, nil
}

func winnerID(a *types.ABTestAnalysis) string {
	if a.Winner == nil {
		return ""
	}
	return a.Winner.VariantID
}

func analysisRecommendations(a *types.ABTestAnalysis) []string {
	if a.Winner == nil {
		return []string{"Add variants before analyzing"}
	}
	if a.IsSignificant {
		if a.Winner.IsControl {
			return []string{"Keep the control configuration; no variant outperformed it"}
		}
		return []string{fmt.Sprintf("Promote variant %s (%.1f%% conversion)", a.Winner.Name, a.Winner.ConversionRate*100)}
	}
	recs := []string{"Continue the experiment; the difference is not yet significant"}
	if a.Winner.Conversions < SignificanceMinConversions {
		recs = append(recs, fmt.Sprintf("Collect at least %d conversions for the leading variant", SignificanceMinConversions))
	}
	return recs
}

// GetExperiment returns a copy of an experiment.
func (v *Validator) GetExperiment(id string) (*types.ABTestExperiment, error) {
	v.abMu.Lock()
	defer v.abMu.Unlock()
	exp, ok := v.experiments[id]
	if !ok {
		return nil, types.NotFound("experiment", id)
	}
	return copyExperiment(exp), nil
}

// ListExperiments returns copies of all experiments in creation order.
func (v *Validator) ListExperiments() []*types.ABTestExperiment {
	v.abMu.Lock()
	defer v.abMu.Unlock()
	out := make([]*types.ABTestExperiment, 0, len(v.expOrder))
	for _, id := range v.expOrder {
		out = append(out, copyExperiment(v.experiments[id]))
	}
	return out
}

func copyExperiment(e *types.ABTestExperiment) *types.ABTestExperiment {
	out := *e
	out.SuccessCriteria = append([]string(nil), e.SuccessCriteria...)
	out.Variants = make([]*types.ABTestVariant, len(e.Variants))
	for i, vr := range e.Variants {
		c := *vr
		c.CustomMetrics = make(map[string]float64, len(vr.CustomMetrics))
		for k, val := range vr.CustomMetrics {
			c.CustomMetrics[k] = val
		}
		out.Variants[i] = &c
	}
	return &out
}
