package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// suggestionsCreated counts newly recorded suggestions. Deduplicated retries are not counted.
	// Labels: operation, risk_level
	suggestionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_suggest",
		Subsystem: "suggestions",
		Name:      "created_total",
		Help:      "Total suggestions recorded",
	}, []string{"operation", "risk_level"})

	// decisionsApplied counts per-suggestion decision outcomes.
	// Labels: decision (approve, reject, applied_in_editor), outcome (resolution or error code)
	decisionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_suggest",
		Subsystem: "suggestions",
		Name:      "decisions_total",
		Help:      "Total decision outcomes by decision and outcome",
	}, []string{"decision", "outcome"})

	// preflightRuns counts preflight computations by result.
	// Labels: status (ok, invalid, conflict)
	preflightRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_suggest",
		Subsystem: "suggestions",
		Name:      "preflight_total",
		Help:      "Total preflight validations by status",
	}, []string{"status"})

	// rollbacksPerformed counts rollback attempts.
	// Labels: outcome (rolled_back, already_rolled_back, or error code)
	rollbacksPerformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_suggest",
		Subsystem: "suggestions",
		Name:      "rollbacks_total",
		Help:      "Total rollback attempts by outcome",
	}, []string{"outcome"})
)
