// Package report renders per-deployment audit reports from the state
// store: a machine-readable JSON document plus a self-contained static
// HTML page with the assessment, capability gaps, rollback actions, and
// the phase timeline.
package report
