/*
Package assess implements pre-flight capability assessment for a service
source directory.

The engine discovers artifacts (wrangler.toml deploy manifest, package.json,
migrations directory, routing config), infers the service type when the
caller did not declare one, verifies the API token upstream, and builds a
capability manifest from the fixed service-type table (data-service,
auth-service, content-service, api-gateway, generic) plus environment
additions — production adds rate-limiting, error-tracking, and cors;
development adds debug-logging.

Gap analysis classifies every required capability as fullyConfigured,
partiallyConfigured, or missing. A capability whose required permission
scopes are absent from a verified token is blocked and not deployable;
everything else stays deployable. When both a domain and a valid token are
present, zone-ownership and DNS-conflict probes run: missing ownership
blocks, a conflicting record is a deployable warning.

The confidence score starts at 50, gains 10 per material user input
(declared service type, token) and 2 per configured capability, loses 20
per blocked gap and 5 per high gap, clamped to [0, 100].

Assessments cache by SHA-256 over the service path and canonical user
inputs (the token participates only as presence, never value) with a TTL;
ForceRefresh bypasses the lookup and writes through. Discovery never
errors on a gap — an empty repository simply assesses with low confidence
and a long gap list.
*/
package assess
