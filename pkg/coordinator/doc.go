/*
Package coordinator provides the shared namespace that per-domain pipelines
of one portfolio run use to exchange intents and resources.

Three operations: Share publishes a value under a key, Await blocks until a
key is shared, Release clears a key for a new writer. A single writer owns
each key while it is live; a second writer attempting Share gets an
invariant error. Typical contents: the portfolio session token for the run,
the shared rate-limiter handle for the platform client, and the dry-run
flag.

Pipelines hold keys, not references to each other: deployments are owned by
the orchestrator, and anything cross-cutting is looked up here by name.
*/
package coordinator
