package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for gate decisions.
var (
	gateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessgate_decisions_total",
			Help: "Total number of access gate decisions by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	gateSessionFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessgate_session_flushes_total",
			Help: "Total number of sessions flushed by the access gate",
		},
		[]string{"reason"},
	)

	gateRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessgate_decision_duration_seconds",
			Help:    "Time spent inside the access gate before a decision",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"tier"},
	)
)

// Decision outcomes recorded in metrics.
const (
	outcomeAllowed           = "allowed"
	outcomeRedirectLogin     = "redirect_login"
	outcomeRedirectDenied    = "redirect_denied"
	outcomeRedirectBack      = "redirect_back"
	outcomeRedirectDashboard = "redirect_dashboard"
	outcomeForbiddenAPI      = "forbidden_api"
)

// Flush reasons recorded in metrics.
const (
	flushReasonIdle        = "idle_expired"
	flushReasonStale       = "stale_session"
	flushReasonNotFound    = "user_not_found"
	flushReasonDeactivated = "account_deactivated"
)
