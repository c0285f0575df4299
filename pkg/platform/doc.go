/*
Package platform provides the rate-limited client for the upstream edge
platform API.

Three API classes carry independent quota budgets:

	workers   100/min  1000/hr  base delay 1s  cap 5m
	d1         50/min  1000/hr  base delay 2s  cap 10m
	general    30/min   500/hr  base delay 3s  cap 15m

# Request Lifecycle

	Acquire slot ──► send ──► reply
	     │                      │
	     │ window full          │ 429 / "rate limit"
	     ▼                      ▼
	priority queue         exponential backoff
	(high > normal > low,  min(base·2^attempt, cap) + U(0,1s)
	 FIFO within class)    up to MaxAttempts (default 5)

The rate limiter counts a request at dispatch, so the number of calls
released inside any window never exceeds the configured limit. Queued
requests honor a 100ms minimum inter-request spacing per class. Transient
network failures share the retry budget; every other error propagates
immediately with its errdefs category (permission for 401/403, not-found
for 404).

One RateLimiter instance is shared by every per-domain pipeline of a run;
the cross-domain coordinator distributes the handle.

# Usage

	client := platform.NewClient(platform.ClientConfig{
		Token:     os.Getenv("CLOUDFLARE_API_TOKEN"),
		AccountID: os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
	})

	verification, err := client.VerifyToken(ctx)
	db, err := client.CreateDatabase(ctx, "api-example-com-production")

Token verification never returns an error for an invalid token: it reports
Valid=false with the reason, so the assessment engine can degrade the
confidence score instead of aborting.
*/
package platform
