package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Offer("accepted")
	a.Offer("accepted")
	b.Offer("late")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.OffersTotal.WithLabelValues("accepted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.OffersTotal.WithLabelValues("accepted")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage("gate", 10, time.Millisecond)
	m.NegotiationStarted()
	m.Echo("completed", "recorded")
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.NegotiationStarted()
	m.NegotiationFinished("terminal", "plan", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `resonance_negotiations_total{result="plan",state="terminal"} 1`)
}
