package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRebuild("pools", time.Second, nil)
		m.SetWorkingSet("pools", 3)
		m.SetSubscriptions("pools", 3)
		m.IncReadFailure("pools")
		m.IncTrigger("pools", "timer")
		m.ObserveAction("deposit", nil)
	})
	assert.Nil(t, m.Registry())
}

func TestCollectors(t *testing.T) {
	m := New()
	m.ObserveRebuild("streams", 10*time.Millisecond, nil)
	m.ObserveRebuild("streams", 10*time.Millisecond, errors.New("boom"))
	m.SetWorkingSet("streams", 4)
	m.IncTrigger("streams", "event")
	m.IncTrigger("streams", "event")
	m.ObserveAction("withdraw", errors.New("reverted"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rebuilds.WithLabelValues("streams", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rebuilds.WithLabelValues("streams", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.workingSet.WithLabelValues("streams")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.triggers.WithLabelValues("streams", "event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("withdraw", "failed")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.SetSubscriptions("pools", 7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `poolsync_reconciler_subscriptions{view="pools"} 7`))
}
