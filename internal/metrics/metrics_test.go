package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordConversion(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordConversion("qwerty", "russian", OutcomeOK, 1, time.Millisecond)
	m.RecordConversion("qwerty", "russian", OutcomeOK, 0.5, time.Millisecond)
	m.RecordConversion("qwerty", "nope", OutcomeNotFound, 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConversionsTotal.WithLabelValues("qwerty", "russian", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionsTotal.WithLabelValues("qwerty", "nope", OutcomeNotFound)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ConversionConfidence))
}

func TestRecordDetectionAndLayouts(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDetection("russian", time.Millisecond)
	m.RecordDetection("", time.Millisecond)
	m.RecordLayoutLoad("file", OutcomeOK)
	m.RecordLayoutLoad("file", OutcomeInvalid)
	m.SetLayouts(6)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectionsTotal.WithLabelValues("russian")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectionsTotal.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LayoutLoadsTotal.WithLabelValues("file", OutcomeInvalid)))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.LayoutsRegistered))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordConversion("a", "b", OutcomeOK, 1, 0)
		m.RecordDetection("a", 0)
		m.RecordLayoutLoad("api", OutcomeOK)
		m.SetLayouts(1)
		m.ObserveHTTP(http.MethodGet, "/healthz", 200, 0)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.ObserveHTTP(http.MethodPost, "/v1/convert", http.StatusOK, 2*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `layoutconv_http_requests_total{code="200",method="POST",route="/v1/convert"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestSeparateRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.SetLayouts(3)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LayoutsRegistered))
}
