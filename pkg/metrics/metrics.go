package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrate_deployments_total",
			Help: "Total number of deployments by environment and status",
		},
		[]string{"environment", "status"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrate_deployment_duration_seconds",
			Help:    "End-to-end deployment duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"environment"},
	)

	PhasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrate_phases_total",
			Help: "Total number of phase executions by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	// Rollback metrics
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrate_rollbacks_total",
			Help: "Total number of rollback actions executed by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Platform API metrics
	APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrate_api_calls_total",
			Help: "Total number of upstream API calls by class and status",
		},
		[]string{"class", "status"},
	)

	APICallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrate_api_call_duration_seconds",
			Help:    "Upstream API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	RateLimitWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrate_ratelimit_waits_total",
			Help: "Total number of requests delayed by the rate limiter",
		},
		[]string{"class"},
	)

	RateLimitQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrate_ratelimit_queue_depth",
			Help: "Current number of requests queued per API class",
		},
		[]string{"class"},
	)

	// Token store metrics
	TokensStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrate_tokens_stored",
			Help: "Current number of encrypted tokens at rest",
		},
	)

	TokenRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrate_token_rotations_total",
			Help: "Total number of token rotations",
		},
	)

	// Health checker metrics
	HealthProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrate_health_probes_total",
			Help: "Total number of health probes by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		DeploymentsTotal,
		DeploymentDuration,
		PhasesTotal,
		RollbacksTotal,
		APICallsTotal,
		APICallDuration,
		RateLimitWaits,
		RateLimitQueueDepth,
		TokensStored,
		TokenRotations,
		HealthProbesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
