/*
Package types defines the core data structures shared across orchestrator
packages.

This package contains only data definitions with no business logic,
preventing circular dependencies between components. All orchestrator
packages import types; types imports nothing but the standard library.

# Entity Relationships

	Portfolio (a set of Domains deployed together)
	    │
	    ├── Domain ──────── immutable (Name, Environment) identity
	    │      │
	    │      └── Deployment ── append-only; one active per (domain, env)
	    │             │
	    │             ├── PhaseRecord ── monotonic index, outcome
	    │             │        │
	    │             │        └── RollbackAction ── registered before its
	    │             │                              paired mutation
	    │             └── DomainResult
	    │
	    └── PortfolioResult ── aggregates DomainResults

# Lifecycle Invariants

  - A Deployment cannot enter a new phase unless the previous phase's
    outcome is ok.
  - Rollback actions replay in strictly descending index order.
  - Terminated deployments are never mutated.
  - SecretBundle.Secrets is excluded from JSON serialization; plaintext
    never reaches audit logs or state snapshots.
*/
package types
