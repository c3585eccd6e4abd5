package behavior

import (
	"math"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Strategy turns ambient metrics into a behavior configuration.
//
// Apply must be deterministic. Validate checks structural sanity of the
// produced config; SafetyCheck enforces hard ceilings. A config is used only
// when both pass.
type Strategy struct {
	ID          string
	Name        string
	Description string
	Type        types.BehaviorType
	Apply       func(ctx types.AdaptationContext) map[string]any
	Validate    func(cfg map[string]any) bool
	SafetyCheck func(cfg map[string]any) bool
}

// Built-in strategy ids.
const (
	StrategyResponseLength      = "response_length_optimization"
	StrategyToneAdaptation      = "tone_adaptation"
	StrategyTimeoutAdjustment   = "timeout_adjustment"
	StrategyCacheTTLTuning      = "cache_ttl_tuning"
	StrategyPersonalization     = "personalization_level"
	StrategyToolSelection       = "tool_selection_optimization"
	StrategyToolParameterTuning = "tool_parameter_tuning"
)

// Hard ceilings enforced by safety checks.
const (
	MaxTimeoutMS       = 60000
	MaxMessageLength   = 2000
	MaxCacheTTLSeconds = 86400
	MaxCacheEntries    = 10000
	MaxRetries         = 5
	MaxToolsPerRequest = 5
)

// BuiltinStrategies returns the default strategy registry in registration
// order.
func BuiltinStrategies() []Strategy {
	return []Strategy{
		{
			ID:          StrategyResponseLength,
			Name:        "Response Length Optimization",
			Description: "Scale reply length with user engagement",
			Type:        types.BehaviorStrategy,
			Apply: func(c types.AdaptationContext) map[string]any {
				eng := clamp01(c.Get("average_engagement", 0.5))
				return map[string]any{
					"max_response_length": int(math.Floor(200 + eng*800)),
					"min_response_length": int(math.Floor(50 + eng*100)),
					"use_summaries":       eng < 0.4,
				}
			},
			Validate: func(cfg map[string]any) bool {
				lo, ok1 := num(cfg, "min_response_length")
				hi, ok2 := num(cfg, "max_response_length")
				return ok1 && ok2 && lo > 0 && hi > lo
			},
			SafetyCheck: func(cfg map[string]any) bool {
				hi, ok := num(cfg, "max_response_length")
				return ok && hi <= MaxMessageLength
			},
		},
		{
			ID:          StrategyToneAdaptation,
			Name:        "Tone Adaptation",
			Description: "Match reply tone to conversation sentiment",
			Type:        types.BehaviorStrategy,
			Apply: func(c types.AdaptationContext) map[string]any {
				sentiment := math.Max(-1, math.Min(1, c.Get("average_sentiment", 0)))
				formality := clamp01(c.Get("formality_preference", 0.5))
				tone := "neutral"
				switch {
				case sentiment < -0.2:
					tone = "supportive"
				case sentiment > 0.5:
					tone = "enthusiastic"
				}
				return map[string]any{
					"tone":            tone,
					"formality_level": round2(formality),
					"use_emoji":       formality < 0.4 && sentiment >= 0,
				}
			},
			Validate: func(cfg map[string]any) bool {
				tone, _ := cfg["tone"].(string)
				f, ok := num(cfg, "formality_level")
				return ok && f >= 0 && f <= 1 && (tone == "neutral" || tone == "supportive" || tone == "enthusiastic")
			},
			SafetyCheck: func(cfg map[string]any) bool {
				_, ok := cfg["tone"].(string)
				return ok
			},
		},
		{
			ID:          StrategyTimeoutAdjustment,
			Name:        "Timeout Adjustment",
			Description: "Size request timeouts and retries from observed latency",
			Type:        types.BehaviorParameter,
			Apply: func(c types.AdaptationContext) map[string]any {
				avg := c.Get("avg_response_time", 1000)
				errRate := c.Get("error_rate", 0)
				timeout := math.Min(MaxTimeoutMS, math.Max(5000, math.Floor(avg*3)))
				retries := 1
				switch {
				case errRate >= 0.15:
					retries = 3
				case errRate >= 0.05:
					retries = 2
				}
				return map[string]any{
					"timeout_ms":       int(timeout),
					"max_retries":      retries,
					"retry_backoff_ms": 500 * retries,
				}
			},
			Validate: func(cfg map[string]any) bool {
				t, ok1 := num(cfg, "timeout_ms")
				r, ok2 := num(cfg, "max_retries")
				return ok1 && ok2 && t > 0 && r >= 0
			},
			SafetyCheck: func(cfg map[string]any) bool {
				t, _ := num(cfg, "timeout_ms")
				r, _ := num(cfg, "max_retries")
				return t <= MaxTimeoutMS && r <= MaxRetries
			},
		},
		{
			ID:          StrategyCacheTTLTuning,
			Name:        "Cache TTL Tuning",
			Description: "Lengthen cache lifetimes when hit rates are high",
			Type:        types.BehaviorParameter,
			Apply: func(c types.AdaptationContext) map[string]any {
				hit := clamp01(c.Get("cache_hit_rate", 0.5))
				entries := math.Min(MaxCacheEntries, math.Floor(1000+c.Get("request_rate", 0)*10))
				return map[string]any{
					"ttl_seconds": int(math.Floor(300 + hit*3300)),
					"max_entries": int(entries),
				}
			},
			Validate: func(cfg map[string]any) bool {
				ttl, ok1 := num(cfg, "ttl_seconds")
				n, ok2 := num(cfg, "max_entries")
				return ok1 && ok2 && ttl > 0 && n > 0
			},
			SafetyCheck: func(cfg map[string]any) bool {
				ttl, _ := num(cfg, "ttl_seconds")
				n, _ := num(cfg, "max_entries")
				return ttl <= MaxCacheTTLSeconds && n <= MaxCacheEntries
			},
		},
		{
			ID:          StrategyPersonalization,
			Name:        "Personalization Level",
			Description: "Personalize replies for satisfied, returning users",
			Type:        types.BehaviorResponse,
			Apply: func(c types.AdaptationContext) map[string]any {
				sat := clamp01(c.Get("user_satisfaction", 0.5))
				familiarity := math.Min(c.Get("interaction_count", 0)/100, 1)
				level := round2(sat*0.6 + familiarity*0.4)
				return map[string]any{
					"personalization_level": level,
					"remember_preferences":  level >= 0.5,
					"use_display_name":      level >= 0.3,
				}
			},
			Validate: func(cfg map[string]any) bool {
				l, ok := num(cfg, "personalization_level")
				return ok && l >= 0 && l <= 1
			},
			SafetyCheck: func(cfg map[string]any) bool {
				l, _ := num(cfg, "personalization_level")
				return l <= 1
			},
		},
		{
			ID:          StrategyToolSelection,
			Name:        "Tool Selection Optimization",
			Description: "Prefer reliable, fast tools",
			Type:        types.BehaviorToolUsage,
			Apply: func(c types.AdaptationContext) map[string]any {
				success := clamp01(c.Get("tool_success_rate", 0.8))
				latency := c.Get("avg_tool_latency", 1000)
				return map[string]any{
					"max_tools_per_request": 1 + int(math.Floor(success*4)),
					"min_tool_confidence":   round2(1 - success*0.5),
					"prefer_cached_tools":   latency > 2000,
				}
			},
			Validate: func(cfg map[string]any) bool {
				n, ok1 := num(cfg, "max_tools_per_request")
				m, ok2 := num(cfg, "min_tool_confidence")
				return ok1 && ok2 && n >= 1 && m >= 0 && m <= 1
			},
			SafetyCheck: func(cfg map[string]any) bool {
				n, _ := num(cfg, "max_tools_per_request")
				return n <= MaxToolsPerRequest
			},
		},
		{
			ID:          StrategyToolParameterTuning,
			Name:        "Tool Parameter Tuning",
			Description: "Tune tool timeouts and batching from tool error rates",
			Type:        types.BehaviorToolUsage,
			Apply: func(c types.AdaptationContext) map[string]any {
				latency := c.Get("avg_tool_latency", 1000)
				errRate := c.Get("tool_error_rate", c.Get("error_rate", 0))
				retries, batch := 1, 5
				if errRate > 0.1 {
					retries = 2
				}
				if errRate > 0.2 {
					batch = 1
				}
				return map[string]any{
					"tool_timeout_ms": int(math.Min(MaxTimeoutMS, math.Max(1000, math.Floor(latency*2.5)))),
					"max_retries":     retries,
					"batch_size":      batch,
				}
			},
			Validate: func(cfg map[string]any) bool {
				t, ok1 := num(cfg, "tool_timeout_ms")
				b, ok2 := num(cfg, "batch_size")
				return ok1 && ok2 && t > 0 && b >= 1
			},
			SafetyCheck: func(cfg map[string]any) bool {
				t, _ := num(cfg, "tool_timeout_ms")
				r, _ := num(cfg, "max_retries")
				return t <= MaxTimeoutMS && r <= MaxRetries
			},
		},
	}
}

// num reads a numeric config value. Configs built in process hold ints;
// configs decoded from storage hold float64.
func num(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
