/*
Package database coordinates D1 migrations, backups, and cleanup across
environments by driving the platform CLI as a subprocess.

Database names are canonical per (domain, environment): dots become dashes
with the environment suffixed, so api.example.com in production maps to
api-example-com-production. Development invocations run with --local
against the simulator; staging and production run with --remote.

Wrangler's output is consumed as JSON (the --json flag), never scraped
from its textual tables.

Safety rails:

  - Production migrations always take a backup first; the backup id is
    tied to the migration in the audit stream.
  - Backups live under backups/database/<env>/<backup-id>/ beside a
    backup-manifest.json describing the dump.
  - Cleanup has three fixed scripts: logs-only, partial, full. Full
    cleanup on production demands double confirmation through the
    injected Confirmer; the non-interactive Confirmer auto-declines, so
    automation can never wipe production.

Every operation appends to audit-logs/database-audit.log as JSON lines.
*/
package database
