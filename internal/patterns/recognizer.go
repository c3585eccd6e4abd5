// Package patterns detects regularities in batches of bot interactions.
//
// A Recognizer holds a registry of Definitions (matcher + confidence
// calculator), a bounded buffer of recent interactions and a cache of the
// patterns it has stored. Each Analyze call scores every definition against
// the supplied batch, keeps those at or above the configured confidence
// threshold, ranks insights and upserts the patterns by definition id.
package patterns

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/metrics"
	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Buffer and example limits.
const (
	DefaultBufferSoftCap = 10000
	DefaultBufferTrimTo  = 5000
	DefaultMaxExamples   = 5
)

// Recognizer turns interaction batches into scored patterns.
type Recognizer struct {
	mu          sync.Mutex
	repo        store.Repository
	constraints types.LearningConstraints

	definitions []Definition
	buffer      []types.Interaction
	active      map[string]*types.Pattern
	analyzed    int

	bufferCap   int
	bufferTrim  int
	maxExamples int
	maxInsights int
	now         func() time.Time
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithBufferLimits sets the interaction buffer soft cap and the size it is
// trimmed to on overflow.
func WithBufferLimits(softCap, trimTo int) Option {
	return func(r *Recognizer) {
		if softCap > 0 && trimTo > 0 && trimTo <= softCap {
			r.bufferCap, r.bufferTrim = softCap, trimTo
		}
	}
}

// WithMaxExamples caps the examples stored per pattern.
func WithMaxExamples(n int) Option {
	return func(r *Recognizer) {
		if n > 0 {
			r.maxExamples = n
		}
	}
}

// WithMaxInsights caps the insights returned per analysis.
func WithMaxInsights(n int) Option {
	return func(r *Recognizer) {
		if n > 0 {
			r.maxInsights = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recognizer) { r.now = now }
}

// New creates a recognizer with the built-in definitions. The constraints are
// copied.
func New(repo store.Repository, constraints types.LearningConstraints, opts ...Option) *Recognizer {
	r := &Recognizer{
		repo:        repo,
		constraints: constraints.Clone(),
		definitions: BuiltinDefinitions(),
		active:      make(map[string]*types.Pattern),
		bufferCap:   DefaultBufferSoftCap,
		bufferTrim:  DefaultBufferTrimTo,
		maxExamples: DefaultMaxExamples,
		maxInsights: DefaultMaxInsights,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	logging.PatternsDebug("Recognizer created with %d definitions", len(r.definitions))
	return r
}

// Analyze scores the batch against every definition and persists the
// patterns that clear the confidence threshold. Persistence failures are
// logged per pattern and never fail the call.
func (r *Recognizer) Analyze(ctx context.Context, interactions []types.Interaction) (*types.PatternRecognitionResult, error) {
	start := r.now()
	timer := logging.StartTimer(logging.CategoryPatterns, "Analyze")
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	result := &types.PatternRecognitionResult{
		Patterns:   make([]*types.Pattern, 0),
		Insights:   make([]types.PatternInsight, 0),
		AnalyzedAt: start,
	}
	if len(interactions) == 0 {
		logging.PatternsDebug("Analyze called with empty batch")
		return result, nil
	}

	r.appendBuffer(interactions)
	r.analyzed += len(interactions)

	minConf := r.constraints.MinConfidenceThreshold
	for _, def := range r.definitions {
		if r.constraints.IsForbidden(def.ID) {
			logging.PatternsDebug("Skipping forbidden definition %s", def.ID)
			continue
		}
		p := r.evaluate(def, interactions, start)
		if p == nil {
			continue
		}
		if p.Confidence < minConf {
			logging.PatternsDebug("Pattern %s below threshold (%.3f < %.3f)", def.ID, p.Confidence, minConf)
			continue
		}
		result.Patterns = append(result.Patterns, p)
	}

	sort.SliceStable(result.Patterns, func(i, j int) bool {
		return result.Patterns[i].Confidence > result.Patterns[j].Confidence
	})
	result.Insights = GenerateInsights(result.Patterns, len(interactions), r.maxInsights)

	stored := 0
	for _, p := range result.Patterns {
		metrics.RecordPatternDetected(string(p.Type), p.Confidence)
		if err := r.storePattern(ctx, p); err != nil {
			metrics.RecordPatternPersistFailure()
			logging.PatternsError("Failed to persist pattern %s: %v", p.ID, err)
			continue
		}
		stored++
	}
	r.recordEvent(ctx, len(interactions), result.Patterns)

	metrics.RecordAnalysis(len(interactions), r.now().Sub(start))
	logging.Patterns("Analyzed %d interactions: %d patterns (%d stored), %d insights",
		len(interactions), len(result.Patterns), stored, len(result.Insights))
	return result, nil
}

// evaluate runs one definition over the batch. It returns nil when nothing
// matched.
func (r *Recognizer) evaluate(def Definition, batch []types.Interaction, now time.Time) *types.Pattern {
	var matches []types.Interaction
	for _, i := range batch {
		if def.Matcher(i) {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	conf := def.Confidence(batch)
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	p := &types.Pattern{
		ID:          def.ID,
		Type:        def.Type,
		Name:        def.Name,
		Description: def.Description,
		Confidence:  conf,
		Frequency:   len(matches),
		Context: map[string]any{
			"total_interactions": len(batch),
			"matched":            len(matches),
		},
		IsActive: true,
	}

	first, last := matches[0].Timestamp, matches[0].Timestamp
	for _, m := range matches {
		if m.Timestamp.Before(first) {
			first = m.Timestamp
		}
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
		if len(p.Examples) < r.maxExamples {
			outcome := m.Outcome
			if outcome == "" {
				outcome = types.OutcomeNeutral
			}
			p.Examples = append(p.Examples, types.PatternExample{
				Data:      m,
				Timestamp: m.Timestamp,
				Outcome:   outcome,
			})
		}
	}
	if first.IsZero() {
		first, last = now, now
	}
	p.FirstObserved, p.LastObserved = first, last
	return p
}

// storePattern upserts p by its definition id.
func (r *Recognizer) storePattern(ctx context.Context, p *types.Pattern) error {
	existing, err := r.repo.Patterns().FindByID(ctx, p.ID)
	switch {
	case err == nil:
		updated, err := r.repo.Patterns().Update(ctx, p.ID, func(cur *types.Pattern) {
			cur.Confidence = p.Confidence
			cur.Frequency = p.Frequency
			cur.Examples = p.Examples
			cur.Context = p.Context
			if p.LastObserved.After(cur.LastObserved) {
				cur.LastObserved = p.LastObserved
			}
		})
		if err != nil {
			return err
		}
		p.FirstObserved = existing.FirstObserved
		p.IsActive = updated.IsActive
		p.CreatedAt, p.UpdatedAt = updated.CreatedAt, updated.UpdatedAt
		r.cache(updated)
		return nil

	case types.IsNotFound(err):
		n, err := r.repo.Patterns().Count(ctx, types.PatternFilter{})
		if err != nil {
			return err
		}
		if n >= r.constraints.MaxPatterns {
			return fmt.Errorf("pattern %s not created: %d stored: %w", p.ID, n, types.ErrLimitExceeded)
		}
		created, err := r.repo.Patterns().Create(ctx, p)
		if err != nil {
			return err
		}
		logging.Patterns("New pattern detected: %s (confidence=%.2f)", p.ID, p.Confidence)
		r.cache(created)
		return nil

	default:
		return err
	}
}

func (r *Recognizer) cache(p *types.Pattern) {
	if p.IsActive {
		r.active[p.ID] = p
	} else {
		delete(r.active, p.ID)
	}
}

func (r *Recognizer) recordEvent(ctx context.Context, n int, found []*types.Pattern) {
	ids := make([]string, 0, len(found))
	for _, p := range found {
		ids = append(ids, p.ID)
	}
	_, err := r.repo.Events().Create(ctx, &types.LearningEvent{
		ID:         uuid.NewString(),
		Type:       types.EventPatternsAnalyzed,
		EntityType: string(types.EntityPattern),
		Details: map[string]any{
			"interactions": n,
			"patterns":     ids,
		},
	})
	if err != nil {
		logging.PatternsWarn("Failed to record analysis event: %v", err)
	}
}

// appendBuffer adds the batch and trims to the most recent bufferTrim
// interactions once the soft cap is exceeded.
func (r *Recognizer) appendBuffer(batch []types.Interaction) {
	r.buffer = append(r.buffer, batch...)
	if len(r.buffer) > r.bufferCap {
		logging.PatternsDebug("Trimming interaction buffer from %d to %d", len(r.buffer), r.bufferTrim)
		trimmed := make([]types.Interaction, r.bufferTrim)
		copy(trimmed, r.buffer[len(r.buffer)-r.bufferTrim:])
		r.buffer = trimmed
	}
}

// GetActivePatterns loads active patterns from the repository and refreshes
// the cache.
func (r *Recognizer) GetActivePatterns(ctx context.Context) ([]*types.Pattern, error) {
	found, err := r.repo.Patterns().FindByOptions(ctx, types.PatternFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load active patterns: %w", err)
	}
	r.mu.Lock()
	r.active = make(map[string]*types.Pattern, len(found))
	for _, p := range found {
		r.active[p.ID] = p
	}
	r.mu.Unlock()
	return found, nil
}

// AddPatternDefinition registers def, replacing any definition with the same id.
func (r *Recognizer) AddPatternDefinition(def Definition) error {
	if def.ID == "" {
		return types.Invalidf("pattern definition id is required")
	}
	if def.Matcher == nil || def.Confidence == nil {
		return types.Invalidf("pattern definition %s needs a matcher and a confidence function", def.ID)
	}
	if types.CompatibleBehaviorTypes(def.Type) == nil {
		return types.Invalidf("pattern definition %s has unknown type %q", def.ID, def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.definitions {
		if r.definitions[i].ID == def.ID {
			r.definitions[i] = def
			logging.PatternsDebug("Replaced pattern definition %s", def.ID)
			return nil
		}
	}
	r.definitions = append(r.definitions, def)
	logging.Patterns("Registered pattern definition %s (%s)", def.ID, def.Type)
	return nil
}

// RemovePatternDefinition unregisters id and reports whether it existed.
func (r *Recognizer) RemovePatternDefinition(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.definitions {
		if r.definitions[i].ID == id {
			r.definitions = append(r.definitions[:i], r.definitions[i+1:]...)
			return true
		}
	}
	return false
}

// Definitions returns the registered definitions in registration order.
func (r *Recognizer) Definitions() []Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Definition(nil), r.definitions...)
}

// GetPatternConfidence buckets a numeric confidence for display.
func (r *Recognizer) GetPatternConfidence(confidence float64) types.ConfidenceLevel {
	return ConfidenceLevel(confidence)
}

// ConfidenceLevel maps a confidence to its ordinal label.
func ConfidenceLevel(confidence float64) types.ConfidenceLevel {
	switch {
	case confidence >= 0.9:
		return types.ConfidenceVeryHigh
	case confidence >= 0.7:
		return types.ConfidenceHigh
	case confidence >= 0.5:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

// UpdateConstraints replaces the recognizer's constraint copy.
func (r *Recognizer) UpdateConstraints(u types.ConstraintsUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constraints = r.constraints.Apply(u)
	logging.PatternsDebug("Constraints updated (min_confidence=%.2f)", r.constraints.MinConfidenceThreshold)
}

// Constraints returns a copy of the current constraints.
func (r *Recognizer) Constraints() types.LearningConstraints {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.constraints.Clone()
}

// Stats summarizes recognizer state.
type Stats struct {
	Definitions    int `json:"definitions"`
	BufferSize     int `json:"buffer_size"`
	ActivePatterns int `json:"active_patterns"`
	TotalAnalyzed  int `json:"total_analyzed"`
}

func (r *Recognizer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Definitions:    len(r.definitions),
		BufferSize:     len(r.buffer),
		ActivePatterns: len(r.active),
		TotalAnalyzed:  r.analyzed,
	}
}
