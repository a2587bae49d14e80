package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

func TestMetrics_CountsAndServes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveProbe(pact.V3_0, "TESTCASE#1", testcase.StatusSuccess, 20*time.Millisecond)
	m.ObserveProbe(pact.V3_0, "TESTCASE#1", testcase.StatusSuccess, 30*time.Millisecond)
	m.ObserveRun("V3.0", "pass")
	m.ObserveCallback("fulfilled", "FAILURE")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("V3.0", "TESTCASE#1", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("V3.0", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbacksTotal.WithLabelValues("fulfilled", "FAILURE")))

	rec := httptest.NewRecorder()
	m.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pact_probe_duration_seconds")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveProbe(pact.V2_0, "TESTCASE#1", testcase.StatusFailure, time.Second)
	m.ObserveRun("V2.0", "fail")
	m.ObserveCallback("rejected", "SUCCESS")
}
