package patterns

import (
	"fmt"
	"sort"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// DefaultMaxInsights is how many insights an analysis returns.
const DefaultMaxInsights = 10

// GenerateInsights ranks recommendations derived from patterns. It is a pure
// function of its inputs; totalInteractions is the size of the analyzed batch.
func GenerateInsights(patterns []*types.Pattern, totalInteractions, limit int) []types.PatternInsight {
	insights := make([]types.PatternInsight, 0)
	for _, p := range patterns {
		if p.Confidence > 0.8 {
			insights = append(insights, types.PatternInsight{
				Type:               types.InsightAdaptation,
				PatternID:          p.ID,
				Message:            fmt.Sprintf("High-confidence pattern %q: consider behavior adaptation", p.Name),
				Priority:           p.Confidence * 10,
				SuggestedBehaviors: types.CompatibleBehaviorTypes(p.Type),
			})
		}
		switch p.Type {
		case types.PatternFailureAnalysis:
			priority := 0.0
			if totalInteractions > 0 {
				priority = float64(p.Frequency) / float64(totalInteractions) * 100
			}
			insights = append(insights, types.PatternInsight{
				Type:               types.InsightErrorReview,
				PatternID:          p.ID,
				Message:            fmt.Sprintf("Review error-prone areas flagged by %q (%d failures)", p.Name, p.Frequency),
				Priority:           priority,
				SuggestedBehaviors: types.CompatibleBehaviorTypes(p.Type),
			})
		case types.PatternSuccessMetric:
			insights = append(insights, types.PatternInsight{
				Type:               types.InsightReinforcement,
				PatternID:          p.ID,
				Message:            fmt.Sprintf("Reinforce what drives %q", p.Name),
				Priority:           p.Confidence * 8,
				SuggestedBehaviors: types.CompatibleBehaviorTypes(p.Type),
			})
		}
	}

	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].Priority > insights[j].Priority
	})
	if limit > 0 && len(insights) > limit {
		insights = insights[:limit]
	}
	return insights
}
