package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SessionsStarted.WithLabelValues("quiz").Inc()
	m.SessionsSubmitted.WithLabelValues("quiz", TriggerExpired).Inc()
	m.SessionsSubmitted.WithLabelValues("quiz", TriggerManual).Add(2)
	m.ScorePercentage.WithLabelValues("quiz").Observe(67)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("quiz")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsSubmitted.WithLabelValues("quiz", TriggerExpired)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsSubmitted.WithLabelValues("quiz", TriggerManual)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ScorePercentage))
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestCounter.WithLabelValues("GET", "/things/{id}", "418")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "assessor_http_requests_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
