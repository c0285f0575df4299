package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/platform"
	"github.com/clodo/orchestrate/pkg/types"
	"gopkg.in/yaml.v3"
)

// EnvDomains is the delimiter-separated fallback for domain discovery
const EnvDomains = "CLODO_DOMAINS"

// PortfolioConfig is the shape of config/domains.json (or .yaml):
// "domains" is either a flat list or an environment map; any other
// top-level key is a per-domain override block.
type PortfolioConfig struct {
	Domains   any                          `json:"domains" yaml:"domains"`
	Overrides map[string]map[string]string `json:"-" yaml:"-"`
}

// RoutingPolicy is the per-(domain, env) policy computed from environment
// defaults
type RoutingPolicy struct {
	Domain      string            `json:"domain"`
	Environment types.Environment `json:"environment"`
	RateLimit   int               `json:"rate_limit"`
	CacheTTL    time.Duration     `json:"cache_ttl"`
	Strategies  []string          `json:"strategies"`
}

var envDefaults = map[types.Environment]RoutingPolicy{
	types.EnvDevelopment: {
		RateLimit:  1000,
		CacheTTL:   30 * time.Second,
		Strategies: []string{"direct"},
	},
	types.EnvStaging: {
		RateLimit:  500,
		CacheTTL:   5 * time.Minute,
		Strategies: []string{"direct", "cache-first"},
	},
	types.EnvProduction: {
		RateLimit:  100,
		CacheTTL:   time.Hour,
		Strategies: []string{"cache-first", "stale-while-revalidate"},
	},
}

// Selection names how a domain is picked from the discovered set
type Selection string

const (
	SelectSpecific Selection = "specific"
	SelectAll      Selection = "all"
	SelectEnvMap   Selection = "envMap"
	SelectFirst    Selection = "first"
)

// Router discovers domains and computes routing policies
type Router struct {
	configPath string
	api        platform.API
	cache      *ConfigCache
	envMap     map[types.Environment][]string
}

// New creates a router. configPath points at config/domains.json or a
// .yaml sibling; api may be nil to skip upstream discovery.
func New(configPath string, api platform.API, cache *ConfigCache) *Router {
	return &Router{
		configPath: configPath,
		api:        api,
		cache:      cache,
		envMap:     make(map[types.Environment][]string),
	}
}

// Discover merges domains from the config file, the upstream API, and the
// CLODO_DOMAINS environment variable, de-duplicated and sorted.
func (r *Router) Discover(ctx context.Context) ([]string, error) {
	set := make(map[string]bool)

	fromConfig, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	for _, d := range fromConfig {
		set[d] = true
	}

	if r.api != nil {
		zones, err := r.api.ListZones(ctx)
		if err != nil {
			// Upstream discovery is additive; a failed call degrades to
			// the local sources.
			logger := log.WithComponent("router")
			logger.Warn().Err(err).Msg("upstream domain discovery failed")
		} else {
			for _, zone := range zones {
				set[zone.Name] = true
			}
		}
	}

	if raw := os.Getenv(EnvDomains); raw != "" {
		for _, d := range strings.Split(raw, ",") {
			if d = strings.TrimSpace(d); d != "" {
				set[d] = true
			}
		}
	}

	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	if err := validateDomains(domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// Select picks domains from the discovered set according to the selection
// mode. For SelectSpecific, arg is the domain; for SelectEnvMap, env picks
// the mapped subset.
func (r *Router) Select(domains []string, mode Selection, arg string, env types.Environment) ([]string, error) {
	switch mode {
	case SelectAll:
		return domains, nil
	case SelectFirst:
		if len(domains) == 0 {
			return nil, errdefs.Validation("no domains discovered")
		}
		return domains[:1], nil
	case SelectSpecific:
		for _, d := range domains {
			if d == arg {
				return []string{d}, nil
			}
		}
		return nil, errdefs.Validation("domain %q not in portfolio", arg)
	case SelectEnvMap:
		mapped := r.envMap[env]
		if len(mapped) == 0 {
			return nil, errdefs.Validation("no domains mapped for environment %q", env)
		}
		return mapped, nil
	default:
		return nil, errdefs.Validation("unknown selection mode %q", mode)
	}
}

// Policy computes the routing policy for (domain, env) from environment
// defaults, consulting the config cache first.
func (r *Router) Policy(domain string, env types.Environment) (*RoutingPolicy, error) {
	if !types.ValidEnvironment(env) {
		return nil, errdefs.Validation("unknown environment %q", env)
	}

	cacheKey := "policy-" + domain + "-" + string(env)
	if r.cache != nil {
		var cached RoutingPolicy
		ok, err := r.cache.Get(cacheKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			return &cached, nil
		}
	}

	defaults := envDefaults[env]
	policy := &RoutingPolicy{
		Domain:      domain,
		Environment: env,
		RateLimit:   defaults.RateLimit,
		CacheTTL:    defaults.CacheTTL,
		Strategies:  append([]string{}, defaults.Strategies...),
	}

	if r.cache != nil {
		if err := r.cache.Put(cacheKey, policy); err != nil {
			return nil, err
		}
	}
	return policy, nil
}

// loadConfig reads the portfolio declaration. A missing file is not an
// error; discovery falls through to the other sources.
func (r *Router) loadConfig() ([]string, error) {
	if r.configPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(r.configPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio config: %w", err)
	}

	var raw map[string]any
	if strings.HasSuffix(r.configPath, ".yaml") || strings.HasSuffix(r.configPath, ".yml") {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errdefs.Validation("malformed portfolio config: %v", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errdefs.Validation("malformed portfolio config: %v", err)
		}
	}

	domainsField, ok := raw["domains"]
	if !ok {
		return nil, errdefs.Validation("portfolio config missing \"domains\"")
	}

	var domains []string
	switch v := domainsField.(type) {
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errdefs.Validation("domain entries must be strings, got %T", item)
			}
			domains = append(domains, s)
		}
	case map[string]any:
		for envKey, item := range v {
			env := types.Environment(envKey)
			if !types.ValidEnvironment(env) {
				logger := log.WithComponent("router")
				logger.Warn().
					Str("environment", envKey).
					Msg("unknown environment key in portfolio config")
			}
			switch mapped := item.(type) {
			case string:
				domains = append(domains, mapped)
				r.envMap[env] = append(r.envMap[env], mapped)
			case []any:
				for _, entry := range mapped {
					s, ok := entry.(string)
					if !ok {
						return nil, errdefs.Validation("domain entries must be strings, got %T", entry)
					}
					domains = append(domains, s)
					r.envMap[env] = append(r.envMap[env], s)
				}
			default:
				return nil, errdefs.Validation("environment %q maps to %T, want string or list", envKey, item)
			}
		}
	default:
		return nil, errdefs.Validation("\"domains\" must be a list or environment map, got %T", domainsField)
	}

	return domains, nil
}

func validateDomains(domains []string) error {
	if len(domains) == 0 {
		return errdefs.Validation("portfolio declares no domains")
	}
	for _, d := range domains {
		if strings.TrimSpace(d) == "" {
			return errdefs.Validation("portfolio contains an empty domain name")
		}
	}
	return nil
}

// ConfigCache is a TTL-bounded JSON cache persisted under config-cache/.
// Initialize must be called before any access; a pre-init lookup is an
// invariant error.
type ConfigCache struct {
	dir         string
	ttl         time.Duration
	initialized bool
}

type cacheEnvelope struct {
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
	Value    json.RawMessage `json:"value"`
}

// NewConfigCache creates an uninitialized cache rooted at dir
func NewConfigCache(dir string, ttl time.Duration) *ConfigCache {
	return &ConfigCache{dir: dir, ttl: ttl}
}

// Initialize creates the cache directory. Required before Get/Put.
func (c *ConfigCache) Initialize() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create config cache: %w", err)
	}
	c.initialized = true
	return nil
}

// Get loads the cached value for key into out. Returns false for a miss
// or an expired entry (expired entries are removed).
func (c *ConfigCache) Get(key string, out any) (bool, error) {
	if !c.initialized {
		return false, errdefs.Invariant("config cache accessed before Initialize")
	}
	path := c.path(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var env cacheEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A corrupt entry is a miss; drop it.
		os.Remove(path)
		return false, nil
	}
	if time.Since(env.StoredAt) >= env.TTL {
		os.Remove(path)
		return false, nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return false, err
	}
	return true, nil
}

// Put stores value under key with the cache TTL
func (c *ConfigCache) Put(key string, value any) error {
	if !c.initialized {
		return errdefs.Invariant("config cache accessed before Initialize")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env := cacheEnvelope{
		StoredAt: time.Now().UTC(),
		TTL:      c.ttl,
		Value:    raw,
	}
	data, err := json.MarshalIndent(&env, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(key), data, 0644)
}

func (c *ConfigCache) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(c.dir, safe+".json")
}
