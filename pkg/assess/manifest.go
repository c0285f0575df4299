package assess

import (
	"github.com/clodo/orchestrate/pkg/types"
)

// serviceProfile is one row of the fixed service-type table
type serviceProfile struct {
	Required    []types.Capability
	Optional    []types.Capability
	Permissions map[types.Capability][]string
	Endpoints   []string
	ResourceEst map[string]int
	DefaultURLs map[string]string
}

// capabilityPermissions maps each capability to the upstream permission
// scopes it needs
var capabilityPermissions = map[types.Capability][]string{
	types.CapDatabase:      {"D1:Edit"},
	types.CapKVStorage:     {"Workers KV Storage:Edit"},
	types.CapObjectStorage: {"Workers R2 Storage:Edit"},
	types.CapDeployment:    {"Workers Scripts:Edit"},
	types.CapDNS:           {"DNS:Edit", "Zone:Read"},
	types.CapSecrets:       {"Workers Scripts:Edit"},
	types.CapRouting:       {"Workers Routes:Edit", "Zone:Read"},
	types.CapRateLimiting:  {"Zone:Edit"},
	types.CapErrorTracking: {},
	types.CapCORS:          {},
	types.CapDebugLogging:  {},
	types.CapAuth:          {"Workers KV Storage:Edit"},
}

// serviceTable is the fixed per-service-type capability table
var serviceTable = map[string]serviceProfile{
	"data-service": {
		Required: []types.Capability{
			types.CapDeployment,
			types.CapRouting,
			types.CapDatabase,
			types.CapSecrets,
		},
		Optional: []types.Capability{
			types.CapKVStorage,
			types.CapObjectStorage,
			types.CapDNS,
		},
		Endpoints:   []string{"/health", "/api/data"},
		ResourceEst: map[string]int{"databases": 1, "kv_namespaces": 1},
		DefaultURLs: map[string]string{"health": "/health"},
	},
	"auth-service": {
		Required: []types.Capability{
			types.CapDeployment,
			types.CapRouting,
			types.CapDatabase,
			types.CapSecrets,
			types.CapAuth,
		},
		Optional: []types.Capability{
			types.CapKVStorage,
			types.CapDNS,
		},
		Endpoints:   []string{"/health", "/auth/login", "/auth/verify"},
		ResourceEst: map[string]int{"databases": 1, "kv_namespaces": 2},
		DefaultURLs: map[string]string{"health": "/health", "login": "/auth/login"},
	},
	"content-service": {
		Required: []types.Capability{
			types.CapDeployment,
			types.CapRouting,
			types.CapObjectStorage,
			types.CapSecrets,
		},
		Optional: []types.Capability{
			types.CapDatabase,
			types.CapKVStorage,
			types.CapDNS,
		},
		Endpoints:   []string{"/health", "/content"},
		ResourceEst: map[string]int{"buckets": 1},
		DefaultURLs: map[string]string{"health": "/health"},
	},
	"api-gateway": {
		Required: []types.Capability{
			types.CapDeployment,
			types.CapRouting,
			types.CapDNS,
			types.CapSecrets,
		},
		Optional: []types.Capability{
			types.CapKVStorage,
			types.CapRateLimiting,
		},
		Endpoints:   []string{"/health"},
		ResourceEst: map[string]int{"routes": 4},
		DefaultURLs: map[string]string{"health": "/health"},
	},
	"generic": {
		Required: []types.Capability{
			types.CapDeployment,
			types.CapRouting,
			types.CapSecrets,
		},
		Optional: []types.Capability{
			types.CapDatabase,
			types.CapKVStorage,
			types.CapDNS,
		},
		Endpoints:   []string{"/health"},
		ResourceEst: map[string]int{},
		DefaultURLs: map[string]string{"health": "/health"},
	},
}

// environment-specific capability additions
var envAdditions = map[types.Environment][]types.Capability{
	types.EnvProduction: {
		types.CapRateLimiting,
		types.CapErrorTracking,
		types.CapCORS,
	},
	types.EnvDevelopment: {
		types.CapDebugLogging,
	},
}

// BuildManifest assembles the capability manifest for (serviceType, env)
// from the fixed table plus environment additions. Unknown service types
// fall back to generic.
func BuildManifest(serviceType string, env types.Environment) *types.CapabilityManifest {
	profile, ok := serviceTable[serviceType]
	if !ok {
		serviceType = "generic"
		profile = serviceTable["generic"]
	}

	required := append([]types.Capability{}, profile.Required...)
	required = append(required, envAdditions[env]...)

	permSet := make(map[string]bool)
	for _, cap := range required {
		for _, perm := range capabilityPermissions[cap] {
			permSet[perm] = true
		}
	}
	permissions := make([]string, 0, len(permSet))
	for perm := range permSet {
		permissions = append(permissions, perm)
	}

	return &types.CapabilityManifest{
		ServiceType: serviceType,
		Environment: env,
		Required:    required,
		Optional:    append([]types.Capability{}, profile.Optional...),
		Permissions: permissions,
		Endpoints:   append([]string{}, profile.Endpoints...),
		ResourceEst: profile.ResourceEst,
		DefaultURLs: profile.DefaultURLs,
	}
}

// RequiredPermissions returns the scopes a capability needs
func RequiredPermissions(cap types.Capability) []string {
	return capabilityPermissions[cap]
}

// gapPriority ranks a missing capability
func gapPriority(cap types.Capability) types.GapPriority {
	switch cap {
	case types.CapDatabase, types.CapDeployment:
		return types.PriorityHigh
	case types.CapRouting, types.CapSecrets, types.CapAuth, types.CapObjectStorage:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

// priorityRank orders recommendations: blocked first, warnings last
func priorityRank(p types.GapPriority) int {
	switch p {
	case types.PriorityBlocked:
		return 0
	case types.PriorityHigh:
		return 1
	case types.PriorityMedium:
		return 2
	case types.PriorityLow:
		return 3
	default:
		return 4
	}
}
