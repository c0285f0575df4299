/*
Package health provides post-deploy verification probes and the production
test harness.

# Verification

VerifyDeployment waits out the edge propagation window, then probes /health
plus the service manifest's endpoint set. Success for each endpoint is a 2xx
answer within the response-time budget; /health additionally requires an
ok/healthy JSON status where the body is JSON. A single endpoint failing
after its retry allowance fails the deployment — there is no path where a
deployment reports success with a failed health check.

Defaults: 10s probe timeout, 10s propagation wait, 3 retries at 5s spacing,
2s response budget.

# Production Tester

ProductionTester orchestrates named sub-test suites resolved from an
internal registry (api, performance, db builtin; auth and load register
when configured). Each suite reports {passed, failed, checks[]}; budgets
cover response time, health check latency, and the auth flow. The aggregate
report persists as a JSON artifact plus a metrics summary keyed by
timestamp.

	tester := health.NewProductionTester("audit-reports")
	report, err := tester.Run(ctx, health.Target{
		Domain:    "api.example.com",
		Endpoints: manifest.Endpoints,
	}, "api", "performance")
*/
package health
