package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg, true, func() float64 { return 3 })
	m := rec.(*prom)

	rec.ObserveEvent("gift", ResultApplied)
	rec.ObserveEvent("gift", ResultApplied)
	rec.ObserveEvent("like", ResultSkipped)
	rec.AddPoints("gift", 350)
	rec.AddPoints("gift", 0)
	rec.IncCache(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("gift", ResultApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("like", ResultSkipped)))
	assert.Equal(t, 350.0, testutil.ToFloat64(m.points.WithLabelValues("gift")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cache.WithLabelValues("hit")))

	n, err := testutil.GatherAndCount(reg, "scoring_leaderboard_size")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_DisabledIsNop(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg, false, nil)
	rec.ObserveEvent("like", ResultApplied)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, mfs)
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg, true, nil)
	m := rec.(*prom)

	r := chi.NewRouter()
	r.Use(Middleware(rec))
	r.Get("/v1/users/{viewer_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/"+id, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/users/{viewer_id}", "4xx")))
}

func TestHandler_Exposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, true, nil).ObserveEvent("comment", ResultApplied)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "scoring_events_total"))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "other", statusClass(42))
}
