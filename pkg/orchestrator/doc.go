/*
Package orchestrator runs the per-domain deployment pipeline and schedules
portfolios into parallel batches.

Each domain runs validate, prepare, deploy, verify in order, each phase
bounded by a deadline. Validate checks inputs and the pre-flight
assessment without touching remote state. Prepare acquires the exclusive
(domain, environment) lock and snapshots the deploy config. Deploy runs
five ordered mutation steps (database, migrations, secrets, worker, DNS),
registering the inverse of every mutation in the state store before the
mutation executes. Verify probes the health and manifest endpoints; a
failed verification fails the deployment.

Batches deploy concurrently up to the configured parallelism with a hard
barrier between batches: no pipeline of batch N+1 starts until every
pipeline of batch N has reached a terminal state. A failed domain rolls
its own mutations back in reverse registration order and aborts the
remaining batches unless rollback is disabled. An empty portfolio is a
successful no-op.
*/
package orchestrator
