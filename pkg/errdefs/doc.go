/*
Package errdefs defines the error taxonomy shared across orchestrator
components.

Each category is a sentinel error; concrete failures wrap a sentinel via
fmt.Errorf's %w verb so callers can branch with errors.Is without importing
the package that produced the error.

Categories and their propagation policy:

  - validation: malformed input or config. Bubbles to the CLI, exit code 2.
  - permission: token missing a required scope. Recorded against the
    capability that required it; never retried.
  - quota: rate limit exhausted after the retry budget. Exit code 4.
  - transient: network/DNS/timeout. Absorbed by the platform client's retry
    policy; only surfaces after the budget is spent.
  - invariant: internal violation, e.g. phase transition with a non-ok
    predecessor. Never retried.
  - rollback: failure during a reverse operation. Recorded, never blocks
    further rollback actions.
  - cancelled: cooperative cancellation at a suspension point. Exit code 3.

Usage:

	if gap.Deployable {
		return errdefs.Validation("domain %q: unknown environment %q", d, env)
	}

	if errdefs.IsTransient(err) {
		// retry per backoff policy
	}

	category := errdefs.Categorize(err) // for audit records
*/
package errdefs
