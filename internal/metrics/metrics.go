// Package metrics exposes Prometheus collectors for the archive, the
// evaluation pipeline and the ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contribledger"

type Metrics struct {
	registry *prometheus.Registry

	Submissions   prometheus.Counter
	Evaluations   *prometheus.CounterVec
	Allocations   *prometheus.CounterVec
	TokensIssued  *prometheus.CounterVec
	Halvings      prometheus.Counter
	EpochBalance  *prometheus.GaugeVec
	ScoringErrors *prometheus.CounterVec
	Registrations *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Contributions archived.",
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Finished evaluations by outcome.",
		}, []string{"outcome"}),
		Allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation attempts by epoch, metal and result.",
		}, []string{"epoch", "metal", "result"}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_allocated_total",
			Help:      "Tokens committed by epoch. Float approximation of exact ledger amounts.",
		}, []string{"epoch"}),
		Halvings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "halvings_total",
			Help:      "Halving events applied to the halving epoch.",
		}),
		EpochBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_balance",
			Help:      "Remaining epoch balance. Float approximation of exact ledger amounts.",
		}, []string{"epoch"}),
		ScoringErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_errors_total",
			Help:      "Scoring collaborator failures by error kind.",
		}, []string{"kind"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.Submissions, m.Evaluations, m.Allocations, m.TokensIssued,
		m.Halvings, m.EpochBalance, m.ScoringErrors, m.Registrations,
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
