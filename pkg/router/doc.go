/*
Package router discovers portfolio domains and computes per-environment
routing policies.

Discovery merges three sources, de-duplicated and sorted: the portfolio
declaration (config/domains.json or .yaml — a flat list or an environment
map, with per-domain override blocks), the upstream platform's zone list,
and the CLODO_DOMAINS comma-separated environment variable. Validation
requires at least one domain and non-empty names, and warns on unknown
environment keys.

Selection modes: specific (one named domain), all, envMap (the subset the
config maps to an environment), first.

Routing policies come from environment defaults — development, staging, and
production each carry distinct rate limits, cache TTLs, and strategy lists
— and persist through the config cache.

The config cache is TTL-bounded JSON under config-cache/, one file per key.
Initialize must run before any access; a pre-init Get or Put is an
invariant error rather than an ambiguous partial read.
*/
package router
