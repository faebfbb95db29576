package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	VotesReconciled  prometheus.Counter
	VotesRejected    *prometheus.CounterVec
	Inconsistencies  prometheus.Counter
	PhaseTransitions *prometheus.CounterVec
	PhaseMismatches  prometheus.Counter
	LedgerCalls      *prometheus.HistogramVec
	TallyCacheHits   prometheus.Counter
	TallyCacheMisses prometheus.Counter
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		VotesReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_votes_reconciled_total",
			Help: "Total number of ledger votes successfully applied off-chain",
		}),
		VotesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotgate_votes_rejected_total",
			Help: "Total number of vote reconciliations rejected, by cause",
		}, []string{"cause"}),
		Inconsistencies: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_inconsistencies_total",
			Help: "Total number of detected dual-ledger inconsistencies",
		}),
		PhaseTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotgate_phase_transitions_total",
			Help: "Total number of election phase transitions, by target phase",
		}, []string{"phase"}),
		PhaseMismatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_phase_mismatches_total",
			Help: "Total number of off-chain vs ledger phase mismatches observed",
		}),
		LedgerCalls: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ballotgate_ledger_call_duration_seconds",
			Help:    "Duration of ledger client calls, by operation and outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		TallyCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_tally_cache_hits_total",
			Help: "Total number of tally reads served from cache",
		}),
		TallyCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_tally_cache_misses_total",
			Help: "Total number of tally reads that went to the ledger",
		}),
	}
}

// ObserveLedgerCall records one ledger round-trip.
func (m *Metrics) ObserveLedgerCall(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LedgerCalls.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// IncrementVoteRejected records one rejected reconciliation.
func (m *Metrics) IncrementVoteRejected(cause string) {
	m.VotesRejected.WithLabelValues(cause).Inc()
}
