/*
Package rollback replays registered rollback actions to reverse a failed
deployment.

Actions are registered in the state store before their paired mutation
executes, so the action list is a superset of the mutations that actually
ran. Execution walks the list in strictly descending registration order.
Every inverse comes from a fixed idempotent set: delete-db,
restore-db-snapshot, revert-deploy-config, delete-secret, revoke-token,
redeploy-previous-artifact, revert-dns. Reverting state that is already
reverted (a database that is gone, a secret that was never written)
succeeds.

A failing inverse is recorded and never blocks the remaining actions; the
run's Result carries a Partial flag when any inverse failed, which the
orchestrator maps to the partially-rolled-back deployment status.
Executed actions are marked in the store, so a second rollback of the
same deployment skips everything and is a no-op.
*/
package rollback
