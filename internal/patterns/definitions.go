package patterns

import (
	"strings"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Definition is one named heuristic. Matcher selects the interactions that
// exhibit the pattern; Confidence scores the pattern over the whole batch,
// not only the matches.
type Definition struct {
	ID          string
	Type        types.PatternType
	Name        string
	Description string
	Matcher     func(types.Interaction) bool
	Confidence  func(batch []types.Interaction) float64
}

// Built-in definition ids.
const (
	DefFrequentCommandUsage      = "frequent_command_usage"
	DefPeakActivityHours         = "peak_activity_hours"
	DefQuestionResponsePattern   = "question_response_pattern"
	DefMultiTurnConversation     = "multi_turn_conversation"
	DefSuccessfulResponseTime    = "successful_response_time"
	DefErrorProneCommands        = "error_prone_commands"
	DefContextSensitiveResponses = "context_sensitive_responses"
)

// BuiltinDefinitions returns the default registry in registration order.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			ID:          DefFrequentCommandUsage,
			Type:        types.PatternUserBehavior,
			Name:        "Frequent Command Usage",
			Description: "Users rely on a recurring set of bot commands",
			Matcher:     isCommand,
			Confidence: func(batch []types.Interaction) float64 {
				unique := make(map[string]struct{})
				for _, i := range batch {
					if isCommand(i) {
						if tok := commandToken(i); tok != "" {
							unique[tok] = struct{}{}
						}
					}
				}
				return min(float64(len(unique))/10, 1)
			},
		},
		{
			ID:          DefPeakActivityHours,
			Type:        types.PatternUserBehavior,
			Name:        "Peak Activity Hours",
			Description: "Interactions concentrate in particular hours of the day",
			Matcher:     func(types.Interaction) bool { return true },
			Confidence: func(batch []types.Interaction) float64 {
				if len(batch) == 0 {
					return 0
				}
				var perHour [24]int
				peak := 0
				for _, i := range batch {
					h := i.Timestamp.UTC().Hour()
					perHour[h]++
					peak = max(peak, perHour[h])
				}
				return float64(peak) / float64(len(batch))
			},
		},
		{
			ID:          DefQuestionResponsePattern,
			Type:        types.PatternInteraction,
			Name:        "Question Response Pattern",
			Description: "Users frequently ask the bot questions",
			Matcher:     isQuestion,
			Confidence: func(batch []types.Interaction) float64 {
				if len(batch) == 0 {
					return 0
				}
				q := count(batch, isQuestion)
				return min(float64(q)/float64(len(batch))*2, 1)
			},
		},
		{
			ID:          DefMultiTurnConversation,
			Type:        types.PatternInteraction,
			Name:        "Multi-turn Conversation",
			Description: "Interactions belong to ongoing conversations",
			Matcher:     hasConversation,
			Confidence: func(batch []types.Interaction) float64 {
				ids := make(map[string]struct{})
				for _, i := range batch {
					if id := i.ContextString("conversation_id"); id != "" {
						ids[id] = struct{}{}
					}
				}
				return min(float64(len(ids))/5, 1)
			},
		},
		{
			ID:          DefSuccessfulResponseTime,
			Type:        types.PatternSuccessMetric,
			Name:        "Successful Response Time",
			Description: "Successful interactions are answered quickly",
			Matcher:     isTimedSuccess,
			Confidence: func(batch []types.Interaction) float64 {
				var sum float64
				n := 0
				for _, i := range batch {
					if !isTimedSuccess(i) {
						continue
					}
					rt, _ := i.Metric("response_time")
					sum += rt
					n++
				}
				if n == 0 {
					return 0
				}
				return max(0, 1-(sum/float64(n))/1000)
			},
		},
		{
			ID:          DefErrorProneCommands,
			Type:        types.PatternFailureAnalysis,
			Name:        "Error-prone Commands",
			Description: "Failures cluster on a few commands",
			Matcher:     isFailure,
			Confidence: func(batch []types.Interaction) float64 {
				perCommand := make(map[string]int)
				total, peak := 0, 0
				for _, i := range batch {
					if !isFailure(i) {
						continue
					}
					total++
					tok := commandToken(i)
					perCommand[tok]++
					peak = max(peak, perCommand[tok])
				}
				if total == 0 {
					return 0
				}
				return float64(peak) / float64(total)
			},
		},
		{
			ID:          DefContextSensitiveResponses,
			Type:        types.PatternContextMapping,
			Name:        "Context-sensitive Responses",
			Description: "Interactions carry rich context the bot can use",
			Matcher:     isContextRich,
			Confidence: func(batch []types.Interaction) float64 {
				if len(batch) == 0 {
					return 0
				}
				return float64(count(batch, isContextRich)) / float64(len(batch))
			},
		},
	}
}

func isCommand(i types.Interaction) bool {
	c := strings.TrimSpace(i.Content)
	return i.Type == "command" || strings.HasPrefix(c, "!") || strings.HasPrefix(c, "/")
}

// commandToken names the command of an interaction: the "command" context
// entry when present, else the first word of the content without its prefix.
func commandToken(i types.Interaction) string {
	if c := i.ContextString("command"); c != "" {
		return strings.ToLower(c)
	}
	fields := strings.Fields(i.Content)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimLeft(fields[0], "!/"))
}

func isQuestion(i types.Interaction) bool { return strings.Contains(i.Content, "?") }

func hasConversation(i types.Interaction) bool { return i.ContextString("conversation_id") != "" }

func isTimedSuccess(i types.Interaction) bool {
	if i.Outcome != types.OutcomeSuccess {
		return false
	}
	_, ok := i.Metric("response_time")
	return ok
}

func isFailure(i types.Interaction) bool { return i.Outcome == types.OutcomeFailure }

func isContextRich(i types.Interaction) bool { return len(i.Context) > 2 }

func count(batch []types.Interaction, pred func(types.Interaction) bool) int {
	n := 0
	for _, i := range batch {
		if pred(i) {
			n++
		}
	}
	return n
}
