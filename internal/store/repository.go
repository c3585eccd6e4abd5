// Package store persists the learning pipeline's entities.
//
// A Repository exposes five collections (patterns, behaviors, knowledge,
// events, capabilities). Each collection supports lookup by id, create,
// partial update through a mutator, filtered listing, count and delete.
// Entities are stored as JSON documents keyed by id, with the entity kind and
// one reference column kept alongside for cheap filtering.
//
// Two backends are provided: SQLite (OpenSQLite) and an in-process map
// (NewMemory) used by tests and one-shot CLI runs.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Entity is implemented by every stored record.
type Entity interface {
	Key() string  // primary id
	Kind() string // type discriminator, indexed
	Ref() string  // secondary lookup column (user, entity or strategy id)
	Stamp(now time.Time)
}

// Filter selects records of T. KindValue and RefValue are pushed down to the
// backend when non-empty; Matches is applied to every decoded record.
type Filter[T any] interface {
	Matches(*T) bool
	KindValue() string
	RefValue() string
	MaxResults() int
}

// Collection is the CRUD surface of one entity collection.
type Collection[T any, F Filter[T]] interface {
	// FindByID returns types.ErrNotFound (wrapped) when id is absent.
	FindByID(ctx context.Context, id string) (*T, error)
	// Create stores a new record. A duplicate id is an *types.InvalidError.
	Create(ctx context.Context, v *T) (*T, error)
	// Update loads id, applies mutate and writes the result back atomically.
	Update(ctx context.Context, id string, mutate func(*T)) (*T, error)
	// FindByOptions lists matching records in insertion order.
	FindByOptions(ctx context.Context, filter F) ([]*T, error)
	Count(ctx context.Context, filter F) (int, error)
	Delete(ctx context.Context, id string) error
}

type PatternStore = Collection[types.Pattern, types.PatternFilter]
type EventStore = Collection[types.LearningEvent, types.EventFilter]
type CapabilityStore = Collection[types.Capability, types.CapabilityFilter]

// BehaviorStore adds usage bookkeeping to the behavior collection.
type BehaviorStore interface {
	Collection[types.Behavior, types.BehaviorFilter]
	// RecordUsage counts one use and recomputes the running success rate.
	RecordUsage(ctx context.Context, id string, success bool) (*types.Behavior, error)
}

// KnowledgeStore adds lifecycle helpers to the knowledge collection.
type KnowledgeStore interface {
	Collection[types.Knowledge, types.KnowledgeFilter]
	RecordUsage(ctx context.Context, id string) (*types.Knowledge, error)
	Validate(ctx context.Context, id string) (*types.Knowledge, error)
	Reject(ctx context.Context, id, reason string) (*types.Knowledge, error)
	Archive(ctx context.Context, id string) (*types.Knowledge, error)
	// SearchContent does a case-insensitive substring match over title,
	// content and tags of non-archived entries.
	SearchContent(ctx context.Context, query string, limit int) ([]*types.Knowledge, error)
}

// Repository is the persistence facade shared by every learning component.
type Repository interface {
	Patterns() PatternStore
	Behaviors() BehaviorStore
	Knowledge() KnowledgeStore
	Events() EventStore
	Capabilities() CapabilityStore
	Close() error
}

// Table names, one per collection.
const (
	tablePatterns     = "patterns"
	tableBehaviors    = "behaviors"
	tableKnowledge    = "knowledge"
	tableEvents       = "events"
	tableCapabilities = "capabilities"
)

var allTables = []string{tablePatterns, tableBehaviors, tableKnowledge, tableEvents, tableCapabilities}

// Open returns a repository for the given driver. "memory" selects the
// in-process backend; anything else is passed to OpenSQLite.
func Open(ctx context.Context, driver, path string) (Repository, error) {
	switch strings.ToLower(driver) {
	case "memory", "mem":
		return NewMemory(), nil
	case "", "sqlite3", "sqlite":
		return OpenSQLite(ctx, driver, path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// repository binds the typed collections to one backend.
type repository struct {
	db           backend
	patterns     *collection[types.Pattern, *types.Pattern, types.PatternFilter]
	behaviors    *behaviorCollection
	knowledge    *knowledgeCollection
	events       *collection[types.LearningEvent, *types.LearningEvent, types.EventFilter]
	capabilities *collection[types.Capability, *types.Capability, types.CapabilityFilter]
}

func newRepository(db backend) *repository {
	clock := time.Now
	return &repository{
		db:       db,
		patterns: newCollection[types.Pattern, *types.Pattern, types.PatternFilter](db, tablePatterns, "pattern", clock),
		behaviors: &behaviorCollection{
			newCollection[types.Behavior, *types.Behavior, types.BehaviorFilter](db, tableBehaviors, "behavior", clock),
		},
		knowledge: &knowledgeCollection{
			newCollection[types.Knowledge, *types.Knowledge, types.KnowledgeFilter](db, tableKnowledge, "knowledge", clock),
		},
		events:       newCollection[types.LearningEvent, *types.LearningEvent, types.EventFilter](db, tableEvents, "event", clock),
		capabilities: newCollection[types.Capability, *types.Capability, types.CapabilityFilter](db, tableCapabilities, "capability", clock),
	}
}

func (r *repository) Patterns() PatternStore        { return r.patterns }
func (r *repository) Behaviors() BehaviorStore      { return r.behaviors }
func (r *repository) Knowledge() KnowledgeStore     { return r.knowledge }
func (r *repository) Events() EventStore            { return r.events }
func (r *repository) Capabilities() CapabilityStore { return r.capabilities }
func (r *repository) Close() error                  { return r.db.close() }

// =============================================================================
// ENTITY HELPERS
// =============================================================================

type behaviorCollection struct {
	*collection[types.Behavior, *types.Behavior, types.BehaviorFilter]
}

func (c *behaviorCollection) RecordUsage(ctx context.Context, id string, success bool) (*types.Behavior, error) {
	return c.Update(ctx, id, func(b *types.Behavior) {
		b.RecordUsage(success)
	})
}

type knowledgeCollection struct {
	*collection[types.Knowledge, *types.Knowledge, types.KnowledgeFilter]
}

func (c *knowledgeCollection) RecordUsage(ctx context.Context, id string) (*types.Knowledge, error) {
	now := c.now()
	return c.Update(ctx, id, func(k *types.Knowledge) {
		k.UsageCount++
		k.LastAccessedAt = &now
	})
}

func (c *knowledgeCollection) Validate(ctx context.Context, id string) (*types.Knowledge, error) {
	return c.Update(ctx, id, func(k *types.Knowledge) {
		k.ValidationStatus = types.ValidationValidated
		k.RejectionReason = ""
	})
}

func (c *knowledgeCollection) Reject(ctx context.Context, id, reason string) (*types.Knowledge, error) {
	return c.Update(ctx, id, func(k *types.Knowledge) {
		k.ValidationStatus = types.ValidationRejected
		k.RejectionReason = reason
	})
}

func (c *knowledgeCollection) Archive(ctx context.Context, id string) (*types.Knowledge, error) {
	return c.Update(ctx, id, func(k *types.Knowledge) {
		k.IsArchived = true
	})
}

func (c *knowledgeCollection) SearchContent(ctx context.Context, query string, limit int) ([]*types.Knowledge, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*types.Knowledge
	err := c.scan(ctx, "", "", func(k *types.Knowledge) bool {
		if k.IsArchived || !knowledgeContains(k, q) {
			return true
		}
		out = append(out, k)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func knowledgeContains(k *types.Knowledge, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(k.Title), q) || strings.Contains(strings.ToLower(k.Content), q) {
		return true
	}
	for _, t := range k.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}
