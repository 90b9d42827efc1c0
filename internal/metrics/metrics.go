// Package metrics defines the Prometheus collectors for the negotiation
// service and a small HTTP server exposing them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Negotiation metrics
var (
	// Orders created, labeled by selection mode
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_orders_created_total",
		Help: "Total orders accepted at intake",
	}, []string{"selection_mode"})

	// Orders rejected at intake because no seller was eligible
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_orders_rejected_total",
		Help: "Total orders rejected at intake with an empty candidate pool",
	})

	// Orders reaching a terminal status
	OrdersTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_orders_terminal_total",
		Help: "Total orders reaching a terminal status",
	}, []string{"status"})

	// Active negotiation sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commissions_active_sessions",
		Help: "Number of orders currently negotiating",
	})

	// Offers applied, labeled by origin
	OffersApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_offers_total",
		Help: "Total offers applied to candidate slots",
	}, []string{"origin"})

	// Offers rejected at the boundary
	OffersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_offers_rejected_total",
		Help: "Total offers rejected before being applied",
	}, []string{"reason"})

	// Rounds per slot when the slot reaches a terminal state
	NegotiationRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "commissions_negotiation_rounds",
		Help:    "Offers exchanged on a slot before it reached a terminal state",
		Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
	})

	// Agent outcomes
	AgentProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_agent_proposals_total",
		Help: "Auto negotiation agent outcomes",
	}, []string{"outcome"})
)

// Bounded label values for offer rejections and agent outcomes.
const (
	RejectionStaleState  = "stale_state"
	RejectionOutOfBounds = "out_of_bounds"

	AgentOutcomeCounter = "counter"
	AgentOutcomeFinal   = "final"
	AgentOutcomeNoDeal  = "no_deal"
)

// Scheduler metrics
var (
	SlotsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_slots_expired_total",
		Help: "Total candidate slots expired by the deadline scheduler",
	})

	SweepsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_scheduler_sweeps_total",
		Help: "Total scheduler polling sweeps",
	})

	SchedulingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_scheduling_failures_total",
		Help: "Total scheduler failures requiring manual reconciliation",
	})
)

// Infrastructure metrics
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commissions_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"method", "path"})

	DispatcherFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_dispatcher_failures_total",
		Help: "Total event publishes that failed",
	})

	PushDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_push_deliveries_total",
		Help: "Total push notification deliveries",
	}, []string{"status"})
)

// RecordAPIRequest records one handled HTTP request
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationMs)
}

// RecordOrderCreated records an accepted intake
func RecordOrderCreated(selectionMode string) {
	OrdersCreated.WithLabelValues(selectionMode).Inc()
}

// RecordOrderTerminal records an order reaching a terminal status
func RecordOrderTerminal(status string) {
	OrdersTerminal.WithLabelValues(status).Inc()
}

// RecordOffer records an applied offer
func RecordOffer(origin string) {
	OffersApplied.WithLabelValues(origin).Inc()
}

// RecordOfferRejected records a rejected offer with a bounded reason
func RecordOfferRejected(reason string) {
	OffersRejected.WithLabelValues(reason).Inc()
}

// RecordAgentProposal records the agent outcome with a bounded label
func RecordAgentProposal(outcome string) {
	AgentProposals.WithLabelValues(outcome).Inc()
}
