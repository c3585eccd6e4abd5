package validation

import (
	"encoding/json"
	"regexp"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// SafetyCheck is a predicate over a serialized entity. Check returns true
// when the entity passes.
type SafetyCheck interface {
	Name() string
	Severity() types.Severity
	Check(serialized string) bool
}

// RegexCheck fails when its pattern matches the serialized entity.
type RegexCheck struct {
	CheckName   string
	Level       types.Severity
	Pattern     *regexp.Regexp
	Description string
}

func (c *RegexCheck) Name() string             { return c.CheckName }
func (c *RegexCheck) Severity() types.Severity { return c.Level }
func (c *RegexCheck) Check(s string) bool      { return !c.Pattern.MatchString(s) }

// DefaultSafetyChecks returns the built-in checks, one per safety boundary.
func DefaultSafetyChecks() []SafetyCheck {
	return []SafetyCheck{
		&RegexCheck{
			CheckName:   types.BoundaryNoUserDataExposure,
			Level:       types.SeverityHigh,
			Pattern:     regexp.MustCompile(`(?i)(user_id|personal.*info|private.*key|password|token)`),
			Description: "Entity may expose user data",
		},
		&RegexCheck{
			CheckName:   types.BoundaryNoUnauthorizedModifications,
			Level:       types.SeverityHigh,
			Pattern:     regexp.MustCompile(`(?i)(system.*root|admin.*access|sudo|bypass.*auth)`),
			Description: "Entity references unauthorized system modification",
		},
		&RegexCheck{
			CheckName:   types.BoundaryNoPrivilegeEscalation,
			Level:       types.SeverityHigh,
			Pattern:     regexp.MustCompile(`(?i)(elevate.*privilege|grant.*admin|escalate.*role|bypass.*permission)`),
			Description: "Entity references privilege escalation",
		},
	}
}

var biasPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(all|every)\s+(women|men|girls|boys|immigrants|foreigners|old people)\s+(are|is)\b`),
	regexp.MustCompile(`(?i)\b(never|don't)\s+trust\s+(women|men|foreigners|immigrants)\b`),
	regexp.MustCompile(`(?i)\b(inferior|superior)\s+(race|gender|religion|people)\b`),
}

func detectBias(s string) bool {
	for _, re := range biasPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// The checks scan a projection of each entity: the human-readable and
// configurable parts. Identity and scoping fields such as user_id are left
// out so that scoping an entry never trips the user-data check.

type patternProjection struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	Examples    []string       `json:"examples,omitempty"`
}

type behaviorProjection struct {
	StrategyID string             `json:"strategy_id"`
	Type       types.BehaviorType `json:"type"`
	Config     map[string]any     `json:"config"`
}

type knowledgeProjection struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func serializePattern(p *types.Pattern) string {
	proj := patternProjection{Name: p.Name, Description: p.Description, Context: p.Context}
	for _, ex := range p.Examples {
		if ex.Data.Content != "" {
			proj.Examples = append(proj.Examples, ex.Data.Content)
		}
	}
	return marshal(proj)
}

func serializeBehavior(b *types.Behavior) string {
	return marshal(behaviorProjection{StrategyID: b.StrategyID, Type: b.Type, Config: b.Config})
}

func serializeKnowledge(k *types.Knowledge) string {
	return marshal(knowledgeProjection{Title: k.Title, Content: k.Content, Source: k.Source, Tags: k.Tags})
}

func marshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
