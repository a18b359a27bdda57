package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncDiscoveryPage("7", "ok")
	m.IncDiscoveryPage("7", "ok")
	m.AddCandidates(3, 2)
	m.ObserveExtraction("failure", "render_timeout", 0)
	m.IncMissingField("budget_source")
	m.IncRun("completed")
	m.SetInFlight(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DiscoveryPagesTotal.WithLabelValues("7", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CandidatesDiscovered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandidatesKnown))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionsTotal.WithLabelValues("failure", "render_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MissingFieldsTotal.WithLabelValues("budget_source")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CandidatesInFlight))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", "200", 0.1)
		m.IncRun("failed")
		m.SetInFlight(1)
	})
}
