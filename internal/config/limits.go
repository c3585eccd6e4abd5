package config

import (
	"github.com/DavinciDreams/Megawatts-sub008/internal/behavior"
	"github.com/DavinciDreams/Megawatts-sub008/internal/knowledge"
	"github.com/DavinciDreams/Megawatts-sub008/internal/patterns"
)

// RecognizerConfig bounds the pattern recognizer's in-memory state.
type RecognizerConfig struct {
	BufferSoftCap int `yaml:"buffer_soft_cap" json:"buffer_soft_cap" validate:"gte=1"` // Interaction buffer trim trigger
	BufferTrimTo  int `yaml:"buffer_trim_to" json:"buffer_trim_to" validate:"gte=0"`   // Entries kept after a trim
	MaxExamples   int `yaml:"max_examples" json:"max_examples" validate:"gte=1"`       // Examples stored per pattern
	MaxInsights   int `yaml:"max_insights" json:"max_insights" validate:"gte=1"`       // Insights per analysis
}

// BehaviorConfig bounds the adaptation history.
type BehaviorConfig struct {
	HistoryCap    int `yaml:"history_cap" json:"history_cap" validate:"gte=1"`
	HistoryTrimTo int `yaml:"history_trim_to" json:"history_trim_to" validate:"gte=0"`
}

// KnowledgeConfig bounds the knowledge audit log.
type KnowledgeConfig struct {
	AuditCap    int `yaml:"audit_cap" json:"audit_cap" validate:"gte=1"`
	AuditTrimTo int `yaml:"audit_trim_to" json:"audit_trim_to" validate:"gte=0"`
}

// RecognizerOptions returns the recognizer options for these limits.
// This ensures config values are actually used, not just stored.
func (c *Config) RecognizerOptions() []patterns.Option {
	return []patterns.Option{
		patterns.WithBufferLimits(c.Recognizer.BufferSoftCap, c.Recognizer.BufferTrimTo),
		patterns.WithMaxExamples(c.Recognizer.MaxExamples),
		patterns.WithMaxInsights(c.Recognizer.MaxInsights),
	}
}

// BehaviorOptions returns the adapter options for these limits.
func (c *Config) BehaviorOptions() []behavior.Option {
	return []behavior.Option{
		behavior.WithHistoryLimits(c.Behavior.HistoryCap, c.Behavior.HistoryTrimTo),
	}
}

// KnowledgeOptions returns the knowledge base options for these limits.
func (c *Config) KnowledgeOptions() []knowledge.Option {
	return []knowledge.Option{
		knowledge.WithAuditLimits(c.Knowledge.AuditCap, c.Knowledge.AuditTrimTo),
	}
}
