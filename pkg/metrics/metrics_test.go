package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "test_phase_duration_seconds",
			Help: "Test phase duration",
		},
		[]string{"phase", "result"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(histogramVec, "genesis", ResultSuccess)

	assert.Equal(t, 1, testutil.CollectAndCount(histogramVec))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultFailure, Result(errors.New("boom")))
}

func TestPlaybookCounter(t *testing.T) {
	before := testutil.ToFloat64(PlaybookRunsTotal.WithLabelValues("nodes.yml", ResultFailure))
	PlaybookRunsTotal.WithLabelValues("nodes.yml", ResultFailure).Inc()
	after := testutil.ToFloat64(PlaybookRunsTotal.WithLabelValues("nodes.yml", ResultFailure))
	assert.Equal(t, before+1, after)
}

func TestRunStatus(t *testing.T) {
	ResetPhases()
	defer ResetPhases()

	RecordPhase("genesis", true, "")
	assert.Equal(t, "running", GetRunStatus().Status)

	RecordPhase("nodes", false, "some nodes may not have started")
	status := GetRunStatus()
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "ok", status.Phases["genesis"])
	assert.Contains(t, status.Phases["nodes"], "some nodes")
}

func TestStatusHandler(t *testing.T) {
	ResetPhases()
	defer ResetPhases()
	RecordPhase("infra", true, "")

	rec := httptest.NewRecorder()
	StatusHandler()(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"infra":"ok"`)
}
