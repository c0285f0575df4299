package types

import (
	"time"
)

// Environment identifies a deployment target environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ValidEnvironment reports whether env is one of the known environments
func ValidEnvironment(env Environment) bool {
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// Domain represents a fully qualified domain in a portfolio.
// Identity (Name, Environment) is immutable; only the config pointer moves.
type Domain struct {
	Name        string
	Environment Environment
	Portfolio   string
	Config      map[string]string
	CreatedAt   time.Time
}

// Phase is a named step in the per-domain deployment pipeline
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhasePrepare  Phase = "prepare"
	PhaseDeploy   Phase = "deploy"
	PhaseVerify   Phase = "verify"
	PhaseRollback Phase = "rollback"
)

// PhaseOutcome is the terminal result of a phase
type PhaseOutcome string

const (
	OutcomeOK      PhaseOutcome = "ok"
	OutcomeFailed  PhaseOutcome = "failed"
	OutcomeSkipped PhaseOutcome = "skipped"
	// OutcomePartial marks a phase whose mutation partially executed;
	// its rollback action still runs.
	OutcomePartial PhaseOutcome = "partially executed"
)

// DeploymentStatus represents the lifecycle state of a deployment
type DeploymentStatus string

const (
	DeploymentRunning    DeploymentStatus = "running"
	DeploymentSucceeded  DeploymentStatus = "succeeded"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled-back"
	DeploymentPartial    DeploymentStatus = "partially-rolled-back"
)

// Deployment is one orchestration run for a single (domain, environment).
// Deployments are append-only; terminated deployments are never mutated.
type Deployment struct {
	ID          string
	Domain      string
	Environment Environment
	Revision    string
	Status      DeploymentStatus
	Phases      []*PhaseRecord
	StartedAt   time.Time
	FinishedAt  time.Time
	User        string
	AuditToken  string
}

// PhaseRecord is an ordered child of a Deployment with a monotonic index
type PhaseRecord struct {
	Index      int
	Phase      Phase
	Step       string
	Outcome    PhaseOutcome
	Error      string
	Category   string
	StartedAt  time.Time
	FinishedAt time.Time
	Rollback   *RollbackAction
}

// RollbackKind names one of the fixed set of inverse operations
type RollbackKind string

const (
	RollbackDeleteDB          RollbackKind = "delete-db"
	RollbackRestoreDBSnapshot RollbackKind = "restore-db-snapshot"
	RollbackRevertConfig      RollbackKind = "revert-deploy-config"
	RollbackDeleteSecret      RollbackKind = "delete-secret"
	RollbackRevokeToken       RollbackKind = "revoke-token"
	RollbackRedeployPrevious  RollbackKind = "redeploy-previous-artifact"
	RollbackDeleteDNS         RollbackKind = "revert-dns"
)

// RollbackAction is an opaque handle naming the inverse of a mutation.
// It is registered in the state store before the paired mutation executes,
// and every inverse is idempotent.
type RollbackAction struct {
	Index        int
	Kind         RollbackKind
	DeploymentID string
	Target       string
	// Preimage holds the serialized prior state needed to reverse the
	// mutation (previous script id, DNS record, config snapshot).
	Preimage     []byte
	RegisteredAt time.Time
	Executed     bool
	ExecutedAt   time.Time
	Error        string
}

// Capability is an abstract service feature mapped to platform resources
type Capability string

const (
	CapDatabase      Capability = "database"
	CapKVStorage     Capability = "kv-storage"
	CapObjectStorage Capability = "object-storage"
	CapDeployment    Capability = "deployment"
	CapDNS           Capability = "dns"
	CapSecrets       Capability = "secrets"
	CapRouting       Capability = "routing"
	CapRateLimiting  Capability = "rate-limiting"
	CapErrorTracking Capability = "error-tracking"
	CapCORS          Capability = "cors"
	CapDebugLogging  Capability = "debug-logging"
	CapAuth          Capability = "auth"
)

// GapState classifies how fully a required capability is satisfied
type GapState string

const (
	GapFullyConfigured     GapState = "fullyConfigured"
	GapPartiallyConfigured GapState = "partiallyConfigured"
	GapMissing             GapState = "missing"
)

// GapPriority orders gaps for the recommendation list
type GapPriority string

const (
	PriorityBlocked GapPriority = "blocked"
	PriorityHigh    GapPriority = "high"
	PriorityMedium  GapPriority = "medium"
	PriorityLow     GapPriority = "low"
	PriorityWarning GapPriority = "warning"
)

// Gap is one required capability that is not fully satisfied
type Gap struct {
	Capability Capability
	State      GapState
	Priority   GapPriority
	Deployable bool
	Reason     string
}

// CapabilityManifest enumerates what a service type needs per environment
type CapabilityManifest struct {
	ServiceType  string
	Environment  Environment
	Required     []Capability
	Optional     []Capability
	Permissions  []string
	Endpoints    []string
	ResourceEst  map[string]int
	DefaultURLs  map[string]string
}

// TokenVerification is the result of the upstream token-verify call
type TokenVerification struct {
	Valid       bool
	AccountID   string
	Permissions []string
	Error       string
	CheckedAt   time.Time
}

// SecretFormat names a rendered materialization of a secret bundle
type SecretFormat string

const (
	FormatEnv      SecretFormat = "env"
	FormatJSON     SecretFormat = "json"
	FormatWrangler SecretFormat = "wrangler"
	FormatShell    SecretFormat = "shell"
)

// SecretBundle is a per-domain map of named secrets with rendered formats
type SecretBundle struct {
	Domain      string
	Environment Environment
	Secrets     map[string]string `json:"-"` // never serialized
	Rendered    map[SecretFormat]string
	GeneratedAt time.Time
}

// DomainResult is the outcome of one per-domain pipeline
type DomainResult struct {
	Domain          string
	Environment     Environment
	DeploymentID    string
	Status          DeploymentStatus
	FailedPhase     Phase
	Error           string
	Category        string
	PartialRollback bool
	Duration        time.Duration
}

// PortfolioResult aggregates per-domain results for one orchestration run
type PortfolioResult struct {
	Portfolio  string
	Status     DeploymentStatus
	Results    []*DomainResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether any domain in the portfolio failed
func (r *PortfolioResult) Failed() bool {
	for _, d := range r.Results {
		if d.Status == DeploymentFailed || d.Status == DeploymentPartial {
			return true
		}
	}
	return false
}

// APIClass identifies an upstream rate-limit budget
type APIClass string

const (
	ClassWorkers APIClass = "workers"
	ClassD1      APIClass = "d1"
	ClassGeneral APIClass = "general"
)

// Priority orders queued API requests across classes
type Priority int

const (
	PriorityLowReq Priority = iota
	PriorityNormalReq
	PriorityHighReq
)
