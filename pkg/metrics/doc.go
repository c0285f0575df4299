/*
Package metrics exposes Prometheus collectors for orchestration telemetry.

Collectors cover deployments (count, duration, per-phase outcomes), rollback
action execution, upstream API calls by rate-limit class, rate-limiter queue
behavior, token store size and rotations, and health probe results. All
collectors are registered at package init; components record directly into
the exported vectors.

The metrics endpoint is optional: long-running invocations (large portfolios,
watch mode) can serve Handler() on a local port; one-shot commands simply
record in-process and the final report snapshot includes the counters.

# Usage

	metrics.DeploymentsTotal.WithLabelValues("production", "succeeded").Inc()
	metrics.APICallDuration.WithLabelValues("workers").Observe(elapsed.Seconds())

	// optional scrape endpoint
	http.Handle("/metrics", metrics.Handler())
*/
package metrics
