package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValidationCountsFailedChecks(t *testing.T) {
	before := testutil.ToFloat64(safetyFailures.WithLabelValues("no_privilege_escalation"))

	RecordValidation("behavior", false, []string{"no_privilege_escalation"})

	assert.Equal(t, before+1, testutil.ToFloat64(safetyFailures.WithLabelValues("no_privilege_escalation")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(validations.WithLabelValues("behavior", "invalid")), 1.0)
}

func TestRecordOutcomeLabels(t *testing.T) {
	s := testutil.ToFloat64(outcomes.WithLabelValues("success"))
	f := testutil.ToFloat64(outcomes.WithLabelValues("failure"))

	RecordOutcome(true)
	RecordOutcome(false)
	RecordOutcome(false)

	assert.Equal(t, s+1, testutil.ToFloat64(outcomes.WithLabelValues("success")))
	assert.Equal(t, f+2, testutil.ToFloat64(outcomes.WithLabelValues("failure")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordCycle(10*time.Millisecond, nil)
	RecordCycle(10*time.Millisecond, errors.New("boom"))
	RecordForgotten(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"megawatts_learning_pipeline_cycle_duration_seconds",
		"megawatts_learning_knowledge_forgotten_total",
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
