// Package metrics holds the Prometheus collectors of the ledger core
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "plotshare"

var (
	// Ledger transactions partitioned by type and outcome
	ledgerTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transactions_total",
			Help:      "Ledger transactions by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Time spent applying a ledger transaction, including lock wait
	ledgerApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_apply_duration_seconds",
			Help:      "Latency of ledger transaction application",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Internal retries after a concurrency error
	ledgerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_retries_total",
			Help:      "Ledger operations retried after a concurrency error",
		},
		[]string{"reason"},
	)

	holdTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_transitions_total",
			Help:      "Plot hold placements and status transitions",
		},
		[]string{"to"},
	)

	holdConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hold_conflicts_total",
			Help:      "Hold placements rejected because the plot was already held",
		},
	)

	investmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "investments_total",
			Help:      "Investment lifecycle events by type and status",
		},
		[]string{"investment_type", "status"},
	)

	profitDistributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profit_distributions_total",
			Help:      "Sale profit distributions by outcome",
		},
		[]string{"outcome"},
	)

	invariantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Fatal invariant violations that need an operator",
		},
		[]string{"kind"},
	)

	eventPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Events that could not be published after commit",
		},
	)

	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduler job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)
)

// ObserveTransaction records one ledger application attempt
func ObserveTransaction(txType, outcome string, started time.Time) {
	ledgerTransactionsTotal.WithLabelValues(txType, outcome).Inc()
	ledgerApplyDuration.WithLabelValues(txType).Observe(time.Since(started).Seconds())
}

// ObserveRetry records an internal retry
func ObserveRetry(reason string) {
	ledgerRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveHoldTransition records a hold placed or leaving active
func ObserveHoldTransition(to string, n int) {
	holdTransitionsTotal.WithLabelValues(to).Add(float64(n))
}

// ObserveHoldConflict records a PlotAlreadyHeld outcome
func ObserveHoldConflict() {
	holdConflictsTotal.Inc()
}

// ObserveInvestment records an investment reaching a status
func ObserveInvestment(investmentType, status string) {
	investmentsTotal.WithLabelValues(investmentType, status).Inc()
}

// ObserveDistribution records the outcome of a sale distribution
func ObserveDistribution(outcome string) {
	profitDistributionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveInvariantViolation records a fatal invariant violation
func ObserveInvariantViolation(kind string) {
	invariantViolationsTotal.WithLabelValues(kind).Inc()
}

// ObservePublishFailure records events lost after commit
func ObservePublishFailure(n int) {
	eventPublishFailuresTotal.Add(float64(n))
}

// ObserveSchedulerRun records one scheduler job run
func ObserveSchedulerRun(job, outcome string) {
	schedulerRunsTotal.WithLabelValues(job, outcome).Inc()
}
