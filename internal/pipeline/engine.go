// Package pipeline wires the four learning components into one cycle:
// interactions are analyzed into patterns, patterns are validated, valid
// patterns drive behavior adaptation, and the resulting behaviors are
// validated in turn. Invalid behaviors are deactivated, never deleted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DavinciDreams/Megawatts-sub008/internal/behavior"
	"github.com/DavinciDreams/Megawatts-sub008/internal/config"
	"github.com/DavinciDreams/Megawatts-sub008/internal/knowledge"
	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/metrics"
	"github.com/DavinciDreams/Megawatts-sub008/internal/patterns"
	"github.com/DavinciDreams/Megawatts-sub008/internal/store"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
	"github.com/DavinciDreams/Megawatts-sub008/internal/validation"
)

// Engine owns one instance of each learning component, all built from the
// same constraints.
type Engine struct {
	mu          sync.RWMutex
	repo        store.Repository
	constraints types.LearningConstraints

	recognizer *patterns.Recognizer
	adapter    *behavior.Adapter
	validator  *validation.Validator
	knowledge  *knowledge.Base

	now func() time.Time
}

type engineOptions struct {
	now    func() time.Time
	random func() float64
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithClock overrides time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithRandom overrides the A/B assignment random source.
func WithRandom(random func() float64) Option {
	return func(o *engineOptions) { o.random = random }
}

// NewEngine builds the components from cfg. A nil cfg uses the defaults.
func NewEngine(repo store.Repository, cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := cfg.Constraints.Clone()
	recOpts := append(cfg.RecognizerOptions(), patterns.WithClock(o.now))
	adOpts := append(cfg.BehaviorOptions(), behavior.WithClock(o.now))
	kbOpts := append(cfg.KnowledgeOptions(), knowledge.WithClock(o.now))
	valOpts := []validation.Option{validation.WithClock(o.now)}
	if o.random != nil {
		valOpts = append(valOpts, validation.WithRandom(o.random))
	}

	e := &Engine{
		repo:        repo,
		constraints: c,
		recognizer:  patterns.New(repo, c, recOpts...),
		adapter:     behavior.New(repo, c, adOpts...),
		validator:   validation.New(repo, c, valOpts...),
		knowledge:   knowledge.New(repo, c, kbOpts...),
		now:         o.now,
	}
	logging.Boot("Learning engine ready (max patterns=%d, max behaviors=%d, min confidence=%.2f)",
		c.MaxPatterns, c.MaxBehaviors, c.MinConfidenceThreshold)
	return e
}

func (e *Engine) Recognizer() *patterns.Recognizer { return e.recognizer }
func (e *Engine) Adapter() *behavior.Adapter       { return e.adapter }
func (e *Engine) Validator() *validation.Validator { return e.validator }
func (e *Engine) Knowledge() *knowledge.Base       { return e.knowledge }
func (e *Engine) Repository() store.Repository     { return e.repo }

// CycleResult reports one pass through the pipeline.
type CycleResult struct {
	Recognition      *types.PatternRecognitionResult   `json:"recognition"`
	PatternVerdicts  []*types.LearningValidationResult `json:"pattern_verdicts"`
	AcceptedPatterns []string                          `json:"accepted_patterns"`
	RejectedPatterns []string                          `json:"rejected_patterns"`
	Context          types.AdaptationContext           `json:"context"`
	Adaptation       *types.BehaviorAdaptationResult   `json:"adaptation"`
	BehaviorVerdicts []*types.LearningValidationResult `json:"behavior_verdicts"`
	Deactivated      []string                          `json:"deactivated_behaviors"`
	StartedAt        time.Time                         `json:"started_at"`
	Duration         time.Duration                     `json:"duration"`
}

// RunCycle runs the full pipeline over one batch. Per-entity validation
// failures are logged and the entity is treated as invalid; only repository
// and context errors abort the cycle.
func (e *Engine) RunCycle(ctx context.Context, interactions []types.Interaction, signals []types.IntegrationMetrics) (res *CycleResult, err error) {
	start := e.now()
	timer := logging.StartTimer(logging.CategoryPipeline, "RunCycle")
	defer timer.Stop()
	defer func() { metrics.RecordCycle(e.now().Sub(start), err) }()

	res = &CycleResult{
		PatternVerdicts:  make([]*types.LearningValidationResult, 0),
		AcceptedPatterns: make([]string, 0),
		RejectedPatterns: make([]string, 0),
		BehaviorVerdicts: make([]*types.LearningValidationResult, 0),
		Deactivated:      make([]string, 0),
		StartedAt:        start,
	}

	res.Recognition, err = e.recognizer.Analyze(ctx, interactions)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	accepted := make([]*types.Pattern, 0, len(res.Recognition.Patterns))
	for _, p := range res.Recognition.Patterns {
		verdict, err := e.validator.ValidatePattern(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.PipelineError("Validating pattern %s failed: %v", p.ID, err)
			res.RejectedPatterns = append(res.RejectedPatterns, p.ID)
			continue
		}
		res.PatternVerdicts = append(res.PatternVerdicts, verdict)
		if !verdict.IsValid {
			logging.PipelineDebug("Pattern %s excluded: %v", p.ID, verdict.Recommendations)
			res.RejectedPatterns = append(res.RejectedPatterns, p.ID)
			continue
		}
		accepted = append(accepted, p)
		res.AcceptedPatterns = append(res.AcceptedPatterns, p.ID)
	}

	res.Context = BuildContext(signals)

	res.Adaptation, err = e.adapter.Adapt(ctx, accepted, res.Context)
	if err != nil {
		return nil, fmt.Errorf("adapt: %w", err)
	}

	for _, id := range res.Adaptation.BehaviorIDs {
		b, err := e.repo.Behaviors().FindByID(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.PipelineError("Loading behavior %s failed: %v", id, err)
			continue
		}
		verdict, err := e.validator.ValidateBehavior(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.PipelineError("Validating behavior %s failed: %v", id, err)
			continue
		}
		res.BehaviorVerdicts = append(res.BehaviorVerdicts, verdict)
		if verdict.IsValid {
			continue
		}
		reason := "failed validation"
		if len(verdict.Recommendations) > 0 {
			reason = verdict.Recommendations[0]
		}
		if _, err := e.adapter.DeactivateBehavior(ctx, id, reason); err != nil {
			logging.PipelineError("Deactivating behavior %s failed: %v", id, err)
			continue
		}
		res.Deactivated = append(res.Deactivated, id)
	}

	res.Duration = e.now().Sub(start)
	logging.Pipeline("Cycle over %d interactions: %d patterns (%d accepted), %d behaviors (%d deactivated) in %v",
		len(interactions), len(res.Recognition.Patterns), len(accepted),
		len(res.Adaptation.BehaviorIDs), len(res.Deactivated), res.Duration)
	return res, nil
}

// BuildContext averages every metric key across the snapshots.
func BuildContext(signals []types.IntegrationMetrics) types.AdaptationContext {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range signals {
		for k, v := range s.Values {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(types.AdaptationContext, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

// Promotion is the outcome of PromoteBehavior.
type Promotion struct {
	Analysis *types.ABTestAnalysis `json:"analysis"`
	Behavior *types.Behavior       `json:"behavior,omitempty"`
	Promoted bool                  `json:"promoted"`
	Reason   string                `json:"reason"`
}

// PromoteBehavior approves the behavior an experiment was run for when a
// non-control variant won significantly.
func (e *Engine) PromoteBehavior(ctx context.Context, experimentID string) (*Promotion, error) {
	exp, err := e.validator.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if exp.BehaviorID == "" {
		return nil, types.Invalidf("experiment %s is not tied to a behavior", experimentID)
	}

	analysis, err := e.validator.AnalyzeABTest(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	out := &Promotion{Analysis: analysis}

	switch {
	case !analysis.IsSignificant:
		out.Reason = "result is not significant"
	case analysis.Winner == nil || analysis.Winner.IsControl:
		out.Reason = "control variant won"
	default:
		b, err := e.adapter.ApproveBehavior(ctx, exp.BehaviorID, "abtest:"+experimentID)
		if err != nil {
			return nil, err
		}
		out.Behavior = b
		out.Promoted = true
		out.Reason = fmt.Sprintf("variant %s won with %.1f%% conversion", analysis.Winner.VariantID, analysis.Winner.ConversionRate*100)
	}
	logging.Pipeline("Promotion of %s via experiment %s: promoted=%v (%s)",
		exp.BehaviorID, experimentID, out.Promoted, out.Reason)
	return out, nil
}

// LearnKnowledge stores an entry and immediately validates it, moving it to
// validated or rejected.
func (e *Engine) LearnKnowledge(ctx context.Context, req knowledge.CreateRequest, actor string) (*types.Knowledge, *types.LearningValidationResult, error) {
	k, err := e.knowledge.Create(ctx, req, actor)
	if err != nil {
		return nil, nil, err
	}
	verdict, err := e.validator.ValidateKnowledge(ctx, k)
	if err != nil {
		return k, nil, err
	}
	if verdict.IsValid {
		k, err = e.knowledge.Validate(ctx, k.ID, actor)
	} else {
		reason := "failed validation"
		if len(verdict.Recommendations) > 0 {
			reason = verdict.Recommendations[0]
		}
		k, err = e.knowledge.Reject(ctx, k.ID, reason, actor)
	}
	if err != nil {
		return nil, verdict, err
	}
	return k, verdict, nil
}

// UpdateConstraints pushes the update into every component.
func (e *Engine) UpdateConstraints(u types.ConstraintsUpdate) {
	e.mu.Lock()
	e.constraints = e.constraints.Apply(u)
	e.mu.Unlock()

	e.recognizer.UpdateConstraints(u)
	e.adapter.UpdateConstraints(u)
	e.validator.UpdateConstraints(u)
	e.knowledge.UpdateConstraints(u)
	logging.Audit(logging.CategoryPipeline).Log(logging.AuditEvent{
		EventType: logging.AuditConstraintsUpdated,
		Target:    "engine",
		Success:   true,
		Message:   "constraints pushed to all components",
	})
}

// Constraints returns a copy of the engine's constraints.
func (e *Engine) Constraints() types.LearningConstraints {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.constraints.Clone()
}

// Summary counts stored entities.
type Summary struct {
	Patterns        int `json:"patterns"`
	ActivePatterns  int `json:"active_patterns"`
	Behaviors       int `json:"behaviors"`
	ActiveBehaviors int `json:"active_behaviors"`
	Knowledge       int `json:"knowledge"`
	Events          int `json:"events"`
	Experiments     int `json:"experiments"`
}

// Summarize counts stored entities across the repository.
func (e *Engine) Summarize(ctx context.Context) (*Summary, error) {
	var s Summary
	var errs []error
	count := func(dst *int, n int, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = n
	}
	n, err := e.repo.Patterns().Count(ctx, types.PatternFilter{})
	count(&s.Patterns, n, err)
	n, err = e.repo.Patterns().Count(ctx, types.PatternFilter{ActiveOnly: true})
	count(&s.ActivePatterns, n, err)
	n, err = e.repo.Behaviors().Count(ctx, types.BehaviorFilter{})
	count(&s.Behaviors, n, err)
	n, err = e.repo.Behaviors().Count(ctx, types.BehaviorFilter{ActiveOnly: true})
	count(&s.ActiveBehaviors, n, err)
	n, err = e.repo.Knowledge().Count(ctx, types.KnowledgeFilter{IncludeArchived: true})
	count(&s.Knowledge, n, err)
	n, err = e.repo.Events().Count(ctx, types.EventFilter{})
	count(&s.Events, n, err)
	s.Experiments = len(e.validator.ListExperiments())
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &s, nil
}
