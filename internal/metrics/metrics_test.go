package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegisteredAndServed(t *testing.T) {
	m := New()
	m.Submissions.Inc()
	m.Evaluations.WithLabelValues("qualified").Inc()
	m.EpochBalance.WithLabelValues("founder").Set(42)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["contribledger_submissions_total"])
	require.True(t, names["contribledger_epoch_balance"])

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `contribledger_evaluations_total{outcome="qualified"} 1`)
	require.Contains(t, body, `contribledger_epoch_balance{epoch="founder"} 42`)
	require.Contains(t, body, "contribledger_submissions_total 1")
}
