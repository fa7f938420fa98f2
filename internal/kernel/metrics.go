package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pbrd",
		Subsystem: "kernel",
		Name:      "rule_transactions_total",
		Help:      "Acknowledged kernel rule transactions, by operation.",
	}, []string{"op"})

	txFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pbrd",
		Subsystem: "kernel",
		Name:      "rule_transaction_failures_total",
		Help:      "Kernel rule transactions rejected or failed in transport, by operation.",
	}, []string{"op"})

	reconcileEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pbrd",
		Subsystem: "kernel",
		Name:      "rule_reconcile_events_total",
		Help:      "Kernel-originated rule deletions forwarded to reconciliation.",
	})
)
