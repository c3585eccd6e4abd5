// Package metrics exposes Prometheus collectors for every stage of the
// learning pipeline. Collectors register with the default registry on import;
// Handler serves them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "megawatts_learning"

// =============================================================================
// Pattern recognition
// =============================================================================

var (
	// analyzeDuration measures one Analyze call.
	analyzeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "patterns",
		Name:      "analyze_duration_seconds",
		Help:      "Duration of pattern analysis passes",
		Buckets:   prometheus.DefBuckets,
	})

	// interactionsAnalyzed counts interactions handed to Analyze.
	interactionsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "patterns",
		Name:      "interactions_total",
		Help:      "Interactions submitted for pattern analysis",
	})

	// patternsDetected counts patterns emitted above threshold.
	// Labels: type (pattern type)
	patternsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "patterns",
		Name:      "detected_total",
		Help:      "Patterns detected above the confidence threshold",
	}, []string{"type"})

	// patternConfidence tracks the distribution of detected confidences.
	patternConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "patterns",
		Name:      "confidence",
		Help:      "Distribution of detected pattern confidence",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	})

	// persistFailures counts per-pattern persistence errors.
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "patterns",
		Name:      "persist_failures_total",
		Help:      "Patterns that failed to persist and were skipped",
	})
)

// =============================================================================
// Behavior adaptation
// =============================================================================

var (
	// adaptations counts strategies applied during Adapt.
	// Labels: strategy, result (adapted, rejected)
	adaptations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "behavior",
		Name:      "adaptations_total",
		Help:      "Strategy applications during adaptation cycles",
	}, []string{"strategy", "result"})

	// applications counts ApplyBehavior calls.
	// Labels: result (applied, not_found, inactive, approval_required)
	applications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "behavior",
		Name:      "applications_total",
		Help:      "ApplyBehavior calls by result",
	}, []string{"result"})

	// outcomes counts recorded behavior outcomes.
	// Labels: result (success, failure)
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "behavior",
		Name:      "outcomes_total",
		Help:      "Recorded behavior outcomes",
	}, []string{"result"})
)

// =============================================================================
// Validation and experiments
// =============================================================================

var (
	// validations counts validation verdicts.
	// Labels: entity_type, result (valid, invalid)
	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "verdicts_total",
		Help:      "Validation verdicts by entity type",
	}, []string{"entity_type", "result"})

	// safetyFailures counts failed safety checks.
	// Labels: check
	safetyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "validation",
		Name:      "safety_failures_total",
		Help:      "Failed safety checks by check name",
	}, []string{"check"})

	// abAssignments counts new variant assignments.
	// Labels: experiment, variant
	abAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "abtest",
		Name:      "assignments_total",
		Help:      "New A/B variant assignments",
	}, []string{"experiment", "variant"})

	// abConversions counts recorded conversions.
	// Labels: experiment, variant
	abConversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "abtest",
		Name:      "conversions_total",
		Help:      "A/B conversions",
	}, []string{"experiment", "variant"})
)

// =============================================================================
// Knowledge base and pipeline
// =============================================================================

var (
	// knowledgeOps counts knowledge base operations.
	// Labels: op, result (ok, denied, not_found, error)
	knowledgeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "knowledge",
		Name:      "operations_total",
		Help:      "Knowledge base operations by result",
	}, []string{"op", "result"})

	// knowledgeForgotten counts entries removed by forget or selective forgetting.
	knowledgeForgotten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "knowledge",
		Name:      "forgotten_total",
		Help:      "Knowledge entries hard-deleted",
	})

	// cycleDuration measures full pipeline cycles.
	// Labels: status (ok, error)
	cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of learning cycles",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
)

// =============================================================================
// Recording functions
// =============================================================================

// RecordAnalysis records one analysis pass over n interactions.
func RecordAnalysis(n int, elapsed time.Duration) {
	interactionsAnalyzed.Add(float64(n))
	analyzeDuration.Observe(elapsed.Seconds())
}

// RecordPatternDetected records one pattern emitted by analysis.
func RecordPatternDetected(patternType string, confidence float64) {
	patternsDetected.WithLabelValues(patternType).Inc()
	patternConfidence.Observe(confidence)
}

// RecordPatternPersistFailure records a skipped pattern write.
func RecordPatternPersistFailure() {
	persistFailures.Inc()
}

// RecordAdaptation records a strategy outcome during Adapt.
//
// Inputs:
//
//	strategy - The strategy id.
//	result - "adapted" or "rejected".
func RecordAdaptation(strategy, result string) {
	adaptations.WithLabelValues(strategy, result).Inc()
}

// RecordApplication records an ApplyBehavior result.
func RecordApplication(result string) {
	applications.WithLabelValues(result).Inc()
}

// RecordOutcome records a behavior outcome.
func RecordOutcome(success bool) {
	if success {
		outcomes.WithLabelValues("success").Inc()
		return
	}
	outcomes.WithLabelValues("failure").Inc()
}

// RecordValidation records a validation verdict and its failed checks.
func RecordValidation(entityType string, valid bool, failedChecks []string) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	validations.WithLabelValues(entityType, result).Inc()
	for _, c := range failedChecks {
		safetyFailures.WithLabelValues(c).Inc()
	}
}

// RecordAssignment records a new A/B variant assignment.
func RecordAssignment(experimentID, variantID string) {
	abAssignments.WithLabelValues(experimentID, variantID).Inc()
}

// RecordConversion records an A/B conversion.
func RecordConversion(experimentID, variantID string) {
	abConversions.WithLabelValues(experimentID, variantID).Inc()
}

// RecordKnowledgeOp records a knowledge base operation.
//
// Inputs:
//
//	op - Operation name (create, retrieve, search, update, forget, ...).
//	result - "ok", "denied", "not_found" or "error".
func RecordKnowledgeOp(op, result string) {
	knowledgeOps.WithLabelValues(op, result).Inc()
}

// RecordForgotten records n hard-deleted knowledge entries.
func RecordForgotten(n int) {
	knowledgeForgotten.Add(float64(n))
}

// RecordCycle records a pipeline cycle.
func RecordCycle(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cycleDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
