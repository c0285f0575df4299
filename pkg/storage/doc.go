/*
Package storage provides persistent deployment state and audit storage
backed by BoltDB.

The store (internally "DataBridge") keeps an append-only log of phase events
per deployment, the registered rollback actions in registration order,
current pointers per (domain, environment), and the per-(domain, environment)
deployment locks. BoltDB transactions fsync on commit, so any write that
returned survives a process crash mid-portfolio.

# Bucket Layout

	deployments/        <deployment-id> → JSON deployment record
	phase_events/       <deployment-id>/ nested bucket
	                        <seq (8-byte BE)> → JSON phase event
	rollback_actions/   <deployment-id>/ nested bucket
	                        <seq (8-byte BE)> → JSON rollback action
	current/            <domain>/<env> → deployment id
	locks/              <domain>/<env> → lock record (holder + time)

Sequence keys are big-endian, so bucket iteration order equals append
order — phase events and rollback actions come back exactly as recorded.

# Invariants Enforced Here

  - A deployment id is created once; re-creation is an invariant error.
  - Terminated deployments (any status but running) are never mutated.
  - One deployment holds the (domain, env) lock at a time; release by a
    non-holder is an invariant error, double release is a no-op.
  - Rollback actions keep their registration index forever; execution only
    flips the Executed flag and records the result.

# Queries

History by domain and environment, the latest successful deployment for a
(domain, env) pair (the rollback target), and the rollback action list in
recorded order. Export/Import move the full store through a portable JSON
snapshot for the CLI export/import commands. Clean removes terminated
deployments older than a cutoff along with their logs.
*/
package storage
