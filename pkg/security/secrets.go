package security

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clodo/orchestrate/pkg/events"
	"github.com/clodo/orchestrate/pkg/types"
)

// Default secret names generated for every domain. Values are random per
// generation; keys are stable so downstream agents can reference them.
var defaultSecretNames = []string{
	"API_KEY",
	"JWT_SECRET",
	"SESSION_SECRET",
	"WEBHOOK_SECRET",
}

// BundleOptions controls per-domain secret generation
type BundleOptions struct {
	// ReuseExisting returns the cached bundle for (domain, env) when one
	// exists. Set false to force regeneration.
	ReuseExisting bool
	// Extra adds secret names beyond the default set.
	Extra []string
}

// GenerateDomainSpecific produces a SecretBundle for (domain, env) with all
// rendered formats materialized. Idempotent by cache key unless
// ReuseExisting is false.
func (tm *TokenManager) GenerateDomainSpecific(domain string, env types.Environment, opts BundleOptions) (*types.SecretBundle, error) {
	cacheKey := domain + "/" + string(env)

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if opts.ReuseExisting {
		if cached, ok := tm.bundles[cacheKey]; ok {
			return cached, nil
		}
	}

	names := append(append([]string{}, defaultSecretNames...), opts.Extra...)
	sort.Strings(names)

	secrets := make(map[string]string, len(names))
	for _, name := range names {
		value, err := RandomSecret(32)
		if err != nil {
			return nil, err
		}
		secrets[name] = value
	}

	bundle := &types.SecretBundle{
		Domain:      domain,
		Environment: env,
		Secrets:     secrets,
		Rendered:    renderFormats(secrets),
		GeneratedAt: time.Now().UTC(),
	}
	tm.bundles[cacheKey] = bundle
	tm.auditLocked("generate-bundle", domain, string(env), "")
	if tm.broker != nil {
		tm.broker.Publish(&events.Event{
			Type: events.EventSecretGenerated,
			Metadata: map[string]string{
				"domain":      domain,
				"environment": string(env),
			},
		})
	}
	return bundle, nil
}

// InvalidateBundle drops the cached bundle for (domain, env).
func (tm *TokenManager) InvalidateBundle(domain string, env types.Environment) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.bundles, domain+"/"+string(env))
}

// renderFormats materializes every downstream-native form at once so each
// consumer reads its own without re-deriving.
func renderFormats(secrets map[string]string) map[types.SecretFormat]string {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	var env, wrangler, shell strings.Builder
	for _, name := range names {
		fmt.Fprintf(&env, "%s=%s\n", name, secrets[name])
		fmt.Fprintf(&wrangler, "echo %q | wrangler secret put %s\n", secrets[name], name)
		fmt.Fprintf(&shell, "export %s=%q\n", name, secrets[name])
	}

	jsonBytes, _ := json.MarshalIndent(secrets, "", "  ")

	return map[types.SecretFormat]string{
		types.FormatEnv:      env.String(),
		types.FormatJSON:     string(jsonBytes),
		types.FormatWrangler: wrangler.String(),
		types.FormatShell:    shell.String(),
	}
}
