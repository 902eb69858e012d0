package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Counters(t *testing.T) {
	m := NewManager()

	m.RecordSubmission("created")
	m.RecordSubmission("created")
	m.RecordSubmission("rejected")
	m.RecordStoreError(KindUnavailable)
	m.RecordLeaderboardQuery()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues(KindUnavailable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leaderboardQueries))
}

func TestManager_StoreUp(t *testing.T) {
	m := NewManager()

	m.SetStoreUp(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeUp))
	m.SetStoreUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeUp))
}

func TestManager_SeparateRegistries(t *testing.T) {
	// Two managers must not collide on registration.
	a := NewManager()
	b := NewManager()
	a.RecordLeaderboardQuery()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.leaderboardQueries))

	reg := prometheus.NewRegistry()
	c := NewManager(WithRegistry(reg), WithNamespace("test"))
	assert.Same(t, reg, c.Registry())
}

func TestManager_Handler(t *testing.T) {
	m := NewManager(WithNamespace("test"))
	m.ObserveHTTPRequest("/api/scores", http.MethodGet, http.StatusOK, 12*time.Millisecond)
	m.RecordSubmission("updated")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_score_submissions_total{outcome="updated"} 1`)
	assert.Contains(t, string(body), `test_http_request_duration_seconds_count{method="GET",route="/api/scores",status_code="200"} 1`)
}
