package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clodo/orchestrate/pkg/log"
)

// VerifyDeployment probes /health plus the manifest's endpoint set for a
// freshly deployed domain. A single non-2xx answer or budget breach after
// the retry allowance fails verification.
func VerifyDeployment(ctx context.Context, domain string, endpoints []string, cfg Config) error {
	logger := log.WithDomain(domain)

	if cfg.PropagationWait > 0 {
		logger.Debug().Dur("wait", cfg.PropagationWait).Msg("waiting for edge propagation")
		select {
		case <-time.After(cfg.PropagationWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	paths := append([]string{"/health"}, endpoints...)
	seen := make(map[string]bool)

	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true

		url := "https://" + domain + normalizePath(path)
		checker := NewHTTPChecker(url).
			WithTimeout(cfg.Timeout).
			WithBudget(cfg.ResponseTimeBudget)
		if path == "/health" {
			checker = checker.WithOKBody()
		}

		logger.Debug().Str("url", url).Msg("probing endpoint")
		if err := probeWithRetries(ctx, checker, cfg); err != nil {
			return fmt.Errorf("endpoint %s: %w", path, err)
		}
	}
	return nil
}

func probeWithRetries(ctx context.Context, checker *HTTPChecker, cfg Config) error {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	probeCfg := cfg
	probeCfg.Retries = attempts

	status := NewStatus()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.RetryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		status.Update(checker.Check(ctx), probeCfg)
		if status.LastResult.Healthy {
			return nil
		}
	}
	return fmt.Errorf("unhealthy after %d attempts: %s", status.ConsecutiveFailures, status.LastResult.Message)
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
