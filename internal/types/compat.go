package types

// patternBehaviorCompat maps each pattern type to the behavior types a
// pattern of that type may drive. Insight ranking and strategy selection
// both read this table.
var patternBehaviorCompat = map[PatternType][]BehaviorType{
	PatternUserBehavior:    {BehaviorStrategy, BehaviorResponse},
	PatternInteraction:     {BehaviorStrategy, BehaviorResponse},
	PatternContextMapping:  {BehaviorStrategy, BehaviorResponse},
	PatternSuccessMetric:   {BehaviorStrategy, BehaviorToolUsage},
	PatternFailureAnalysis: {BehaviorParameter, BehaviorToolUsage},
}

// CompatibleBehaviorTypes returns a copy of the behavior types compatible
// with pt, or nil for an unknown pattern type.
func CompatibleBehaviorTypes(pt PatternType) []BehaviorType {
	types, ok := patternBehaviorCompat[pt]
	if !ok {
		return nil
	}
	return append([]BehaviorType(nil), types...)
}

// IsCompatible reports whether bt is in pt's compatible set.
func IsCompatible(pt PatternType, bt BehaviorType) bool {
	for _, t := range patternBehaviorCompat[pt] {
		if t == bt {
			return true
		}
	}
	return false
}
