package assess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/platform"
	"github.com/clodo/orchestrate/pkg/router"
	"github.com/clodo/orchestrate/pkg/types"
)

// UserInputs are the caller-declared assessment inputs. User inputs win
// over discovered values.
type UserInputs struct {
	ServiceType   string            `json:"service_type,omitempty"`
	Domain        string            `json:"domain,omitempty"`
	Environment   types.Environment `json:"environment,omitempty"`
	APIToken      string            `json:"-"` // never serialized
	DatabaseName  string            `json:"database_name,omitempty"`
	BucketName    string            `json:"bucket_name,omitempty"`
	NamespaceName string            `json:"namespace_name,omitempty"`
}

// CapabilityAssessment is the full assessment result
type CapabilityAssessment struct {
	ServicePath     string                    `json:"service_path"`
	ServiceType     string                    `json:"service_type"`
	Environment     types.Environment         `json:"environment"`
	Discovery       *Discovery                `json:"discovery"`
	Inputs          UserInputs                `json:"inputs"`
	Manifest        *types.CapabilityManifest `json:"manifest"`
	Token           *types.TokenVerification  `json:"token,omitempty"`
	Gaps            []types.Gap               `json:"gaps"`
	Recommendations []string                  `json:"recommendations"`
	Confidence      int                       `json:"confidence"`
	CacheKey        string                    `json:"cache_key"`
	AssessedAt      time.Time                 `json:"assessed_at"`
}

// Deployable reports whether no gap blocks deployment
func (a *CapabilityAssessment) Deployable() bool {
	for _, gap := range a.Gaps {
		if !gap.Deployable {
			return false
		}
	}
	return true
}

// BlockedGaps returns the gaps that prevent deployment
func (a *CapabilityAssessment) BlockedGaps() []types.Gap {
	var blocked []types.Gap
	for _, gap := range a.Gaps {
		if !gap.Deployable {
			blocked = append(blocked, gap)
		}
	}
	return blocked
}

// Options controls one assessment run
type Options struct {
	// ForceRefresh bypasses the cache lookup and writes through
	ForceRefresh bool
	// CacheTTL bounds cached assessments; zero uses the cache default
	CacheTTL time.Duration
}

// Engine performs capability assessment
type Engine struct {
	api     platform.API
	cache   *router.ConfigCache
	limiter *platform.RateLimiter
}

// NewEngine creates an assessment engine. api may be nil when no token is
// available; cache may be nil to disable caching.
func NewEngine(api platform.API, cache *router.ConfigCache) *Engine {
	return &Engine{api: api, cache: cache}
}

// WithLimiter attaches the run's shared rate limiter so assessments can
// annotate quota pressure.
func (e *Engine) WithLimiter(rl *platform.RateLimiter) *Engine {
	e.limiter = rl
	return e
}

// Assess discovers the service at servicePath, merges inputs, builds the
// manifest, and computes the gap analysis with confidence score. Discovery
// gaps surface through the gap list; the only errors returned are
// infrastructure failures (cache I/O).
func (e *Engine) Assess(ctx context.Context, servicePath string, inputs UserInputs, opts Options) (*CapabilityAssessment, error) {
	cacheKey := cacheKeyFor(servicePath, inputs)
	logger := log.WithComponent("assess")

	if e.cache != nil && !opts.ForceRefresh {
		var cached CapabilityAssessment
		ok, err := e.cache.Get(cacheKey, &cached)
		if err != nil {
			return nil, err
		}
		if ok {
			logger.Debug().Str("cache_key", cacheKey).Msg("assessment cache hit")
			return &cached, nil
		}
	}

	discovery, err := Discover(servicePath)
	if err != nil {
		return nil, err
	}

	assessment := &CapabilityAssessment{
		ServicePath: servicePath,
		Discovery:   discovery,
		Inputs:      inputs,
		CacheKey:    cacheKey,
		AssessedAt:  time.Now().UTC(),
	}

	// Merge: user inputs win over discovered values.
	assessment.ServiceType = inputs.ServiceType
	if assessment.ServiceType == "" {
		assessment.ServiceType = discovery.InferredType
	}
	assessment.Environment = inputs.Environment
	if assessment.Environment == "" {
		assessment.Environment = types.EnvDevelopment
	}

	if inputs.APIToken != "" && e.api != nil {
		verification, err := e.api.VerifyToken(ctx)
		if err != nil {
			verification = &types.TokenVerification{Valid: false, Error: err.Error(), CheckedAt: time.Now().UTC()}
		}
		assessment.Token = verification
	}

	assessment.Manifest = BuildManifest(assessment.ServiceType, assessment.Environment)
	assessment.Gaps = e.analyzeGaps(ctx, assessment)
	assessment.Recommendations = recommendations(assessment.Gaps)
	assessment.Recommendations = append(assessment.Recommendations, e.quotaPressure()...)
	assessment.Confidence = confidence(assessment)

	if e.cache != nil {
		if err := e.cache.Put(cacheKey, assessment); err != nil {
			logger.Warn().Err(err).Msg("failed to cache assessment")
		}
	}
	return assessment, nil
}

// analyzeGaps classifies every required capability and runs the domain
// probes when both a domain and a valid token are present.
func (e *Engine) analyzeGaps(ctx context.Context, a *CapabilityAssessment) []types.Gap {
	var gaps []types.Gap

	tokenPerms := map[string]bool{}
	tokenValid := a.Token != nil && a.Token.Valid
	if tokenValid {
		for _, perm := range a.Token.Permissions {
			tokenPerms[perm] = true
		}
	}

	for _, cap := range a.Manifest.Required {
		state, configured := a.Discovery.Capabilities[cap]
		if configured && state == types.GapFullyConfigured {
			continue
		}

		gap := types.Gap{Capability: cap, Deployable: true}
		if configured {
			gap.State = types.GapPartiallyConfigured
			gap.Priority = types.PriorityMedium
			gap.Reason = fmt.Sprintf("%s is partially configured", cap)
		} else {
			gap.State = types.GapMissing
			gap.Priority = gapPriority(cap)
			gap.Reason = fmt.Sprintf("%s is not configured", cap)
		}

		// A capability whose required permissions are absent from a
		// verified token is blocked rather than merely missing.
		if tokenValid {
			var missing []string
			for _, perm := range RequiredPermissions(cap) {
				if !tokenPerms[perm] {
					missing = append(missing, perm)
				}
			}
			if len(missing) > 0 && gap.State != types.GapFullyConfigured {
				gap.Priority = types.PriorityBlocked
				gap.Deployable = false
				gap.Reason = fmt.Sprintf("token missing %v required for %s", missing, cap)
			}
		}
		gaps = append(gaps, gap)
	}

	if a.Inputs.Domain != "" && tokenValid && e.api != nil {
		gaps = append(gaps, e.probeDomain(ctx, a.Inputs.Domain)...)
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		return priorityRank(gaps[i].Priority) < priorityRank(gaps[j].Priority)
	})
	return gaps
}

// probeDomain checks zone ownership and DNS conflicts. Missing ownership
// blocks; a conflicting record is a warning that stays deployable.
func (e *Engine) probeDomain(ctx context.Context, domain string) []types.Gap {
	var gaps []types.Gap

	owned, err := e.api.VerifyZoneOwnership(ctx, domain)
	if err != nil {
		gaps = append(gaps, types.Gap{
			Capability: types.CapDNS,
			State:      types.GapMissing,
			Priority:   types.PriorityWarning,
			Deployable: true,
			Reason:     fmt.Sprintf("ownership probe failed: %v", err),
		})
		return gaps
	}
	if !owned {
		gaps = append(gaps, types.Gap{
			Capability: types.CapDNS,
			State:      types.GapMissing,
			Priority:   types.PriorityBlocked,
			Deployable: false,
			Reason:     fmt.Sprintf("account does not own a zone for %s", domain),
		})
		return gaps
	}

	records, err := e.api.ListDNSRecords(ctx, domain)
	if err == nil && len(records) > 0 {
		gaps = append(gaps, types.Gap{
			Capability: types.CapDNS,
			State:      types.GapPartiallyConfigured,
			Priority:   types.PriorityWarning,
			Deployable: true,
			Reason:     fmt.Sprintf("%d existing DNS records for %s may conflict", len(records), domain),
		})
	}
	return gaps
}

// quotaPressure reports API classes whose windows are exhausted, so the
// operator knows a deploy started now will queue.
func (e *Engine) quotaPressure() []string {
	if e.limiter == nil {
		return nil
	}
	var notes []string
	for _, class := range []types.APIClass{types.ClassWorkers, types.ClassD1, types.ClassGeneral} {
		if !e.limiter.TryAcquire(class) {
			notes = append(notes, fmt.Sprintf("[warning] %s API quota exhausted, calls will queue until the window resets", class))
		}
	}
	return notes
}

func recommendations(gaps []types.Gap) []string {
	recs := make([]string, 0, len(gaps))
	for _, gap := range gaps {
		recs = append(recs, fmt.Sprintf("[%s] %s", gap.Priority, gap.Reason))
	}
	return recs
}

// confidence scores an assessment: start at 50, +10 per material user
// input (declared type, token), +2 per configured capability, -20 per
// blocked gap, -5 per high gap, clamped to [0, 100].
func confidence(a *CapabilityAssessment) int {
	score := 50
	if a.Inputs.ServiceType != "" {
		score += 10
	}
	if a.Inputs.APIToken != "" {
		score += 10
	}
	score += 2 * len(a.Discovery.Capabilities)
	for _, gap := range a.Gaps {
		switch gap.Priority {
		case types.PriorityBlocked:
			score -= 20
		case types.PriorityHigh:
			score -= 5
		}
	}
	if a.Token != nil && !a.Token.Valid {
		score -= 10
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// cacheKeyFor hashes the service path with the canonical (sorted-key JSON)
// user inputs. The API token participates only as its fingerprint-safe
// length, never its value.
func cacheKeyFor(servicePath string, inputs UserInputs) string {
	canonical, _ := json.Marshal(struct {
		ServiceType   string            `json:"service_type"`
		Domain        string            `json:"domain"`
		Environment   types.Environment `json:"environment"`
		HasToken      bool              `json:"has_token"`
		DatabaseName  string            `json:"database_name"`
		BucketName    string            `json:"bucket_name"`
		NamespaceName string            `json:"namespace_name"`
	}{
		inputs.ServiceType, inputs.Domain, inputs.Environment,
		inputs.APIToken != "", inputs.DatabaseName, inputs.BucketName, inputs.NamespaceName,
	})
	sum := sha256.Sum256(append([]byte(servicePath), canonical...))
	return "assessment-" + hex.EncodeToString(sum[:16])
}
