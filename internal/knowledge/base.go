// Package knowledge stores facts and rules learned about users, guilds and
// the bot itself, with privacy-scoped reads and selective forgetting.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/metrics"
	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Audit trail limits.
const (
	DefaultAuditCap    = 5000
	DefaultAuditTrimTo = 2500
)

// Audit actions.
const (
	ActionCreate   = "create"
	ActionRetrieve = "retrieve"
	ActionDenied   = "access_denied"
	ActionValidate = "validate"
	ActionReject   = "reject"
	ActionUpdate   = "update"
	ActionArchive  = "archive"
	ActionForget   = "forget"
)

// CreateRequest is the input to Create.
type CreateRequest struct {
	Type         types.KnowledgeType `json:"type" validate:"required,oneof=pattern best_practice user_preference optimization safety_rule"`
	Title        string              `json:"title" validate:"required"`
	Content      string              `json:"content" validate:"required"`
	Source       string              `json:"source"`
	Confidence   float64             `json:"confidence" validate:"gte=0,lte=1"`
	PrivacyLevel types.PrivacyLevel  `json:"privacy_level" validate:"required,oneof=public guild_only user_only private"`
	UserID       string              `json:"user_id,omitempty"`
	GuildID      string              `json:"guild_id,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
}

// Changes is a partial update; nil fields are left unchanged.
type Changes struct {
	Title      *string
	Content    *string
	Source     *string
	Confidence *float64
	Tags       []string
	ExpiresAt  *time.Time
}

// Stats summarizes the knowledge base.
type Stats struct {
	Total           int                            `json:"total"`
	Archived        int                            `json:"archived"`
	ByType          map[types.KnowledgeType]int    `json:"by_type"`
	ByPrivacy       map[types.PrivacyLevel]int     `json:"by_privacy"`
	ByStatus        map[types.ValidationStatus]int `json:"by_status"`
	CacheSize       int                            `json:"cache_size"`
	IndexedKeywords int                            `json:"indexed_keywords"`
	AuditEntries    int                            `json:"audit_entries"`
}

// Base is the knowledge base. Reads go through an in-process cache and a
// keyword index; both assume a single live instance per repository.
type Base struct {
	mu          sync.Mutex
	repo        store.Repository
	constraints types.LearningConstraints
	structs     *validator.Validate

	cache map[string]*types.Knowledge
	index *keywordIndex

	audit     []types.KnowledgeAuditEntry
	auditCap  int
	auditTrim int

	now func() time.Time
}

// Option configures a Base.
type Option func(*Base)

// WithAuditLimits sets the audit trail cap and the size it is trimmed to.
func WithAuditLimits(limit, trimTo int) Option {
	return func(b *Base) {
		if limit > 0 && trimTo > 0 && trimTo <= limit {
			b.auditCap, b.auditTrim = limit, trimTo
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Base) { b.now = now }
}

// New creates a knowledge base. The constraints are copied.
func New(repo store.Repository, constraints types.LearningConstraints, opts ...Option) *Base {
	b := &Base{
		repo:        repo,
		constraints: constraints.Clone(),
		structs:     validator.New(),
		cache:       make(map[string]*types.Knowledge),
		index:       newKeywordIndex(),
		auditCap:    DefaultAuditCap,
		auditTrim:   DefaultAuditTrimTo,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

// HasAccess reports whether the caller may read k. Private entries are never
// readable through the knowledge base.
func HasAccess(k *types.Knowledge, access types.AccessContext) bool {
	switch k.PrivacyLevel {
	case types.PrivacyPublic:
		return true
	case types.PrivacyGuildOnly:
		return k.GuildID != "" && access.GuildID == k.GuildID
	case types.PrivacyUserOnly:
		return k.UserID != "" && access.UserID == k.UserID
	}
	return false
}

// HasAccess loads id and reports whether the caller may read it.
func (b *Base) HasAccess(ctx context.Context, id string, access types.AccessContext) (bool, error) {
	k, err := b.load(ctx, id)
	if err != nil {
		return false, err
	}
	return HasAccess(k, access), nil
}

// =============================================================================
// CRUD
// =============================================================================

// Create validates req and stores a pending entry.
func (b *Base) Create(ctx context.Context, req CreateRequest, actor string) (*types.Knowledge, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Create")
	defer timer.Stop()

	if err := b.structs.Struct(req); err != nil {
		metrics.RecordKnowledgeOp(ActionCreate, "invalid")
		return nil, types.Invalidf("invalid knowledge entry: %v", err)
	}

	c := b.Constraints()
	if term := forbiddenTerm(c, req.Title+" "+req.Content); term != "" {
		metrics.RecordKnowledgeOp(ActionCreate, "invalid")
		return nil, types.Invalidf("knowledge entry contains forbidden pattern %q", term)
	}

	n, err := b.repo.Knowledge().Count(ctx, types.KnowledgeFilter{IncludeArchived: true})
	if err != nil {
		return nil, fmt.Errorf("count knowledge: %w", err)
	}
	if n >= c.MaxKnowledgeEntries {
		metrics.RecordKnowledgeOp(ActionCreate, "limit")
		return nil, fmt.Errorf("knowledge base holds %d entries: %w", n, types.ErrLimitExceeded)
	}

	k := &types.Knowledge{
		ID:               uuid.NewString(),
		Type:             req.Type,
		Title:            req.Title,
		Content:          req.Content,
		Source:           req.Source,
		Confidence:       req.Confidence,
		PrivacyLevel:     req.PrivacyLevel,
		UserID:           req.UserID,
		GuildID:          req.GuildID,
		Tags:             append([]string(nil), req.Tags...),
		ValidationStatus: types.ValidationPending,
		ExpiresAt:        req.ExpiresAt,
	}
	if !k.PrivacyConsistent() {
		logging.KnowledgeWarn("Entry %q is %s without the matching scope id", k.Title, k.PrivacyLevel)
	}

	created, err := b.repo.Knowledge().Create(ctx, k)
	if err != nil {
		metrics.RecordKnowledgeOp(ActionCreate, "error")
		return nil, err
	}

	b.mu.Lock()
	b.cacheLocked(created)
	b.appendAuditLocked(ActionCreate, created.ID, actor, map[string]any{"type": string(created.Type)})
	b.mu.Unlock()

	metrics.RecordKnowledgeOp(ActionCreate, "ok")
	logging.Knowledge("Created knowledge %s (%s, %s)", created.ID, created.Type, created.PrivacyLevel)
	return clone(created), nil
}

// forbiddenTerm returns the first forbidden pattern contained in text.
func forbiddenTerm(c types.LearningConstraints, text string) string {
	lower := strings.ToLower(text)
	for _, f := range c.ForbiddenPatterns {
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			return f
		}
	}
	return ""
}

// Retrieve returns an entry the caller may read and counts one use. Entries
// outside the caller's scope return types.ErrAccessDenied.
func (b *Base) Retrieve(ctx context.Context, id string, access types.AccessContext) (*types.Knowledge, error) {
	k, err := b.load(ctx, id)
	if err != nil {
		metrics.RecordKnowledgeOp(ActionRetrieve, "not_found")
		return nil, err
	}

	audit := logging.Audit(logging.CategoryKnowledge)
	if !HasAccess(k, access) {
		b.mu.Lock()
		b.appendAuditLocked(ActionDenied, id, access.UserID, map[string]any{"privacy_level": string(k.PrivacyLevel)})
		b.mu.Unlock()
		audit.KnowledgeAccess(id, access.UserID, false)
		metrics.RecordKnowledgeOp(ActionRetrieve, "denied")
		return nil, fmt.Errorf("knowledge %s: %w", id, types.ErrAccessDenied)
	}

	updated, err := b.repo.Knowledge().RecordUsage(ctx, id)
	if err != nil {
		logging.KnowledgeWarn("Failed to record usage for %s: %v", id, err)
		updated = k
	}

	b.mu.Lock()
	b.cache[id] = updated
	b.appendAuditLocked(ActionRetrieve, id, access.UserID, nil)
	b.mu.Unlock()

	audit.KnowledgeAccess(id, access.UserID, true)
	metrics.RecordKnowledgeOp(ActionRetrieve, "ok")
	return clone(updated), nil
}

// load reads through the cache.
func (b *Base) load(ctx context.Context, id string) (*types.Knowledge, error) {
	b.mu.Lock()
	k, ok := b.cache[id]
	b.mu.Unlock()
	if ok {
		return k, nil
	}

	k, err := b.repo.Knowledge().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.cacheLocked(k)
	b.mu.Unlock()
	return k, nil
}

// Search matches query against title, content and tags, then drops entries
// the caller may not read. Substring matches come first, followed by entries
// that contain every keyword of query in any order.
func (b *Base) Search(ctx context.Context, query string, access types.AccessContext, limit int) ([]*types.Knowledge, error) {
	found, err := b.repo.Knowledge().SearchContent(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(found))
	for _, k := range found {
		seen[k.ID] = true
	}

	b.mu.Lock()
	extra := b.index.match(query)
	b.mu.Unlock()
	sort.Strings(extra)
	for _, id := range extra {
		if seen[id] {
			continue
		}
		k, err := b.load(ctx, id)
		if err != nil || k.IsArchived {
			continue
		}
		seen[id] = true
		found = append(found, k)
	}

	out := visible(found, access, limit)
	metrics.RecordKnowledgeOp("search", "ok")
	logging.KnowledgeDebug("Search %q: %d matches, %d visible", query, len(found), len(out))
	return out, nil
}

// Query lists entries matching filter that the caller may read. The filter's
// limit applies after the privacy filter.
func (b *Base) Query(ctx context.Context, filter types.KnowledgeFilter, access types.AccessContext) ([]*types.Knowledge, error) {
	limit := filter.Limit
	filter.Limit = 0
	found, err := b.repo.Knowledge().FindByOptions(ctx, filter)
	if err != nil {
		return nil, err
	}
	metrics.RecordKnowledgeOp("query", "ok")
	return visible(found, access, limit), nil
}

func visible(entries []*types.Knowledge, access types.AccessContext, limit int) []*types.Knowledge {
	out := make([]*types.Knowledge, 0, len(entries))
	for _, k := range entries {
		if !HasAccess(k, access) {
			continue
		}
		out = append(out, clone(k))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Validate marks an entry validated.
func (b *Base) Validate(ctx context.Context, id, actor string) (*types.Knowledge, error) {
	k, err := b.repo.Knowledge().Validate(ctx, id)
	if err != nil {
		return nil, err
	}
	b.afterWrite(k, ActionValidate, actor, nil)
	return clone(k), nil
}

// Reject marks an entry rejected with a reason.
func (b *Base) Reject(ctx context.Context, id, reason, actor string) (*types.Knowledge, error) {
	k, err := b.repo.Knowledge().Reject(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	b.afterWrite(k, ActionReject, actor, map[string]any{"reason": reason})
	return clone(k), nil
}

// Update applies ch and re-indexes the entry when its text or tags changed.
func (b *Base) Update(ctx context.Context, id string, ch Changes, actor string) (*types.Knowledge, error) {
	if ch.Confidence != nil && (*ch.Confidence < 0 || *ch.Confidence > 1) {
		return nil, types.Invalidf("confidence %.2f out of range", *ch.Confidence)
	}
	if ch.Title != nil && strings.TrimSpace(*ch.Title) == "" {
		return nil, types.Invalidf("title cannot be empty")
	}
	if ch.Content != nil && strings.TrimSpace(*ch.Content) == "" {
		return nil, types.Invalidf("content cannot be empty")
	}

	k, err := b.repo.Knowledge().Update(ctx, id, func(k *types.Knowledge) {
		if ch.Title != nil {
			k.Title = *ch.Title
		}
		if ch.Content != nil {
			k.Content = *ch.Content
		}
		if ch.Source != nil {
			k.Source = *ch.Source
		}
		if ch.Confidence != nil {
			k.Confidence = *ch.Confidence
		}
		if ch.Tags != nil {
			k.Tags = append([]string(nil), ch.Tags...)
		}
		if ch.ExpiresAt != nil {
			t := *ch.ExpiresAt
			k.ExpiresAt = &t
		}
	})
	if err != nil {
		return nil, err
	}

	reindex := ch.Title != nil || ch.Content != nil || ch.Tags != nil
	b.afterWrite(k, ActionUpdate, actor, map[string]any{"reindexed": reindex})
	return clone(k), nil
}

// Archive hides an entry from searches without deleting it.
func (b *Base) Archive(ctx context.Context, id, actor string) (*types.Knowledge, error) {
	k, err := b.repo.Knowledge().Archive(ctx, id)
	if err != nil {
		return nil, err
	}
	b.afterWrite(k, ActionArchive, actor, nil)
	return clone(k), nil
}

func (b *Base) afterWrite(k *types.Knowledge, action, actor string, details map[string]any) {
	b.mu.Lock()
	b.cacheLocked(k)
	b.appendAuditLocked(action, k.ID, actor, details)
	b.mu.Unlock()
	metrics.RecordKnowledgeOp(action, "ok")
	logging.KnowledgeDebug("Knowledge %s: %s", k.ID, action)
}

// cacheLocked stores k in the cache and refreshes its index entry.
func (b *Base) cacheLocked(k *types.Knowledge) {
	b.cache[k.ID] = k
	b.index.add(k)
}

// =============================================================================
// FORGETTING
// =============================================================================

// Forget deletes an entry and purges it from the cache and index.
func (b *Base) Forget(ctx context.Context, id, actor string) error {
	if err := b.repo.Knowledge().Delete(ctx, id); err != nil {
		return err
	}
	b.purge(id, actor, "explicit")
	metrics.RecordForgotten(1)
	return nil
}

func (b *Base) purge(id, actor, reason string) {
	b.mu.Lock()
	delete(b.cache, id)
	b.index.remove(id)
	b.appendAuditLocked(ActionForget, id, actor, map[string]any{"reason": reason})
	b.mu.Unlock()

	logging.Audit(logging.CategoryKnowledge).Log(logging.AuditEvent{
		EventType: logging.AuditKnowledgeForget,
		Target:    id,
		Actor:     actor,
		Success:   true,
		Message:   reason,
	})
}

// SelectiveForgetting deletes every entry matching any criterion and
// returns how many were removed. Types, when set, restricts the candidates.
// Per-entry delete failures are logged and skipped.
func (b *Base) SelectiveForgetting(ctx context.Context, criteria types.ForgettingCriteria) (int, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "SelectiveForgetting")
	defer timer.Stop()

	if criteria.Empty() {
		return 0, types.Invalidf("forgetting criteria are empty")
	}

	all, err := b.repo.Knowledge().FindByOptions(ctx, types.KnowledgeFilter{IncludeArchived: true})
	if err != nil {
		return 0, err
	}

	now := b.now()
	n := 0
	for _, k := range all {
		if !inTypes(k.Type, criteria.Types) || !forgettable(k, criteria, now) {
			continue
		}
		if err := b.repo.Knowledge().Delete(ctx, k.ID); err != nil {
			logging.KnowledgeError("Failed to forget %s: %v", k.ID, err)
			continue
		}
		b.purge(k.ID, "system", "selective")
		n++
	}

	metrics.RecordForgotten(n)
	logging.Knowledge("Selective forgetting removed %d of %d entries", n, len(all))
	return n, nil
}

func inTypes(t types.KnowledgeType, allowed []types.KnowledgeType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

func forgettable(k *types.Knowledge, c types.ForgettingCriteria, now time.Time) bool {
	switch {
	case c.OlderThan > 0 && now.Sub(k.CreatedAt) > c.OlderThan:
		return true
	case c.BelowConfidence != nil && k.Confidence < *c.BelowConfidence:
		return true
	case c.BelowUsageCount != nil && k.UsageCount < *c.BelowUsageCount:
		return true
	case c.Expired && k.Expired(now):
		return true
	}
	return false
}

// =============================================================================
// AUDIT AND STATS
// =============================================================================

func (b *Base) appendAuditLocked(action, id, userID string, details map[string]any) {
	b.audit = append(b.audit, types.KnowledgeAuditEntry{
		Action:      action,
		KnowledgeID: id,
		UserID:      userID,
		Timestamp:   b.now(),
		Details:     details,
	})
	if len(b.audit) > b.auditCap {
		trimmed := make([]types.KnowledgeAuditEntry, b.auditTrim)
		copy(trimmed, b.audit[len(b.audit)-b.auditTrim:])
		b.audit = trimmed
	}
}

// AuditLog returns the most recent audit entries, oldest first. A limit of
// zero returns all of them.
func (b *Base) AuditLog(limit int) []types.KnowledgeAuditEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.audit
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]types.KnowledgeAuditEntry(nil), entries...)
}

// Stats counts stored entries by type, privacy level and status.
func (b *Base) Stats(ctx context.Context) (*Stats, error) {
	all, err := b.repo.Knowledge().FindByOptions(ctx, types.KnowledgeFilter{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	s := &Stats{
		Total:     len(all),
		ByType:    make(map[types.KnowledgeType]int),
		ByPrivacy: make(map[types.PrivacyLevel]int),
		ByStatus:  make(map[types.ValidationStatus]int),
	}
	for _, k := range all {
		s.ByType[k.Type]++
		s.ByPrivacy[k.PrivacyLevel]++
		s.ByStatus[k.ValidationStatus]++
		if k.IsArchived {
			s.Archived++
		}
	}

	b.mu.Lock()
	s.CacheSize = len(b.cache)
	s.IndexedKeywords = b.index.size()
	s.AuditEntries = len(b.audit)
	b.mu.Unlock()
	return s, nil
}

// UpdateConstraints replaces the knowledge base's constraint copy.
func (b *Base) UpdateConstraints(u types.ConstraintsUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.constraints = b.constraints.Apply(u)
}

// Constraints returns a copy of the current constraints.
func (b *Base) Constraints() types.LearningConstraints {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.constraints.Clone()
}

func clone(k *types.Knowledge) *types.Knowledge {
	c := *k
	c.Tags = append([]string(nil), k.Tags...)
	return &c
}
