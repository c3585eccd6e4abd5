package types

import (
	"strings"
	"time"
)

// KnowledgeType classifies a stored fact or rule.
type KnowledgeType string

const (
	KnowledgePattern        KnowledgeType = "pattern"
	KnowledgeBestPractice   KnowledgeType = "best_practice"
	KnowledgeUserPreference KnowledgeType = "user_preference"
	KnowledgeOptimization   KnowledgeType = "optimization"
	KnowledgeSafetyRule     KnowledgeType = "safety_rule"
)

// PrivacyLevel scopes who may read a knowledge entry.
type PrivacyLevel string

const (
	PrivacyPublic    PrivacyLevel = "public"
	PrivacyGuildOnly PrivacyLevel = "guild_only"
	PrivacyUserOnly  PrivacyLevel = "user_only"
	PrivacyPrivate   PrivacyLevel = "private"
)

// Valid reports whether p is one of the known privacy levels.
func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyGuildOnly, PrivacyUserOnly, PrivacyPrivate:
		return true
	}
	return false
}

// ValidationStatus tracks review state of a knowledge entry.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// Knowledge is a stored fact with privacy scoping.
type Knowledge struct {
	ID               string           `json:"id"`
	Type             KnowledgeType    `json:"type"`
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	Source           string           `json:"source"`
	Confidence       float64          `json:"confidence"`
	PrivacyLevel     PrivacyLevel     `json:"privacy_level"`
	UserID           string           `json:"user_id,omitempty"`
	GuildID          string           `json:"guild_id,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	UsageCount       int              `json:"usage_count"`
	LastAccessedAt   *time.Time       `json:"last_accessed_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	IsArchived       bool             `json:"is_archived"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (k *Knowledge) Key() string  { return k.ID }
func (k *Knowledge) Kind() string { return string(k.Type) }
func (k *Knowledge) Ref() string  { return k.UserID }

func (k *Knowledge) Stamp(now time.Time) {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now
}

// Expired reports whether the entry has passed its expiry time.
func (k *Knowledge) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// PrivacyConsistent checks the scope/id pairing: user_only needs a user id
// and guild_only needs a guild id.
func (k *Knowledge) PrivacyConsistent() bool {
	switch k.PrivacyLevel {
	case PrivacyUserOnly:
		return k.UserID != ""
	case PrivacyGuildOnly:
		return k.GuildID != ""
	}
	return true
}

// KnowledgeFilter selects knowledge entries in FindByOptions.
type KnowledgeFilter struct {
	Type             KnowledgeType
	PrivacyLevel     PrivacyLevel
	UserID           string
	GuildID          string
	ValidationStatus ValidationStatus
	Tags             []string
	MinConfidence    float64
	IncludeArchived  bool
	Limit            int
}

func (f KnowledgeFilter) KindValue() string { return string(f.Type) }
func (f KnowledgeFilter) MaxResults() int   { return f.Limit }
func (f KnowledgeFilter) RefValue() string  { return f.UserID }

func (f KnowledgeFilter) Matches(k *Knowledge) bool {
	if f.Type != "" && k.Type != f.Type {
		return false
	}
	if f.PrivacyLevel != "" && k.PrivacyLevel != f.PrivacyLevel {
		return false
	}
	if f.UserID != "" && k.UserID != f.UserID {
		return false
	}
	if f.GuildID != "" && k.GuildID != f.GuildID {
		return false
	}
	if f.ValidationStatus != "" && k.ValidationStatus != f.ValidationStatus {
		return false
	}
	if !f.IncludeArchived && k.IsArchived {
		return false
	}
	if k.Confidence < f.MinConfidence {
		return false
	}
	for _, want := range f.Tags {
		if !hasTag(k.Tags, want) {
			return false
		}
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// AccessContext identifies the caller of a knowledge read.
type AccessContext struct {
	UserID  string
	GuildID string
}

// ForgettingCriteria selects entries for bulk forgetting. An entry is
// forgotten when any configured criterion matches it.
type ForgettingCriteria struct {
	OlderThan       time.Duration   `json:"older_than,omitempty"`
	BelowConfidence *float64        `json:"below_confidence,omitempty"`
	BelowUsageCount *int            `json:"below_usage_count,omitempty"`
	Expired         bool            `json:"expired,omitempty"`
	Types           []KnowledgeType `json:"types,omitempty"`
}

// Empty reports whether no criterion is configured.
func (c ForgettingCriteria) Empty() bool {
	return c.OlderThan == 0 && c.BelowConfidence == nil && c.BelowUsageCount == nil && !c.Expired
}

// KnowledgeAuditEntry is one record of the knowledge base audit trail.
type KnowledgeAuditEntry struct {
	Action      string         `json:"action"`
	KnowledgeID string         `json:"knowledge_id"`
	UserID      string         `json:"user_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}
