package storage

import (
	"io"
	"time"

	"github.com/clodo/orchestrate/pkg/types"
)

// EventKind labels an entry in the append-only phase log
type EventKind string

const (
	EventStart              EventKind = "start"
	EventEnd                EventKind = "end"
	EventRollbackRegistered EventKind = "rollback-registered"
	EventError              EventKind = "error"
)

// PhaseEvent is one record in a deployment's append-only log
type PhaseEvent struct {
	Seq          uint64
	DeploymentID string
	Kind         EventKind
	Phase        types.Phase
	Step         string
	Outcome      types.PhaseOutcome
	Error        string
	Category     string
	At           time.Time
}

// Store defines the interface for deployment state and audit storage.
// Implemented by the BoltDB-backed store; writes are durable on return.
type Store interface {
	// Deployments
	CreateDeployment(d *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	UpdateDeployment(d *types.Deployment) error
	ListDeployments() ([]*types.Deployment, error)
	ListDeploymentsByDomain(domain string) ([]*types.Deployment, error)
	ListDeploymentsByEnvironment(env types.Environment) ([]*types.Deployment, error)

	// Append-only phase log
	AppendEvent(ev *PhaseEvent) error
	ListEvents(deploymentID string) ([]*PhaseEvent, error)

	// Rollback actions, in registration order
	RegisterRollbackAction(a *types.RollbackAction) error
	ListRollbackActions(deploymentID string) ([]*types.RollbackAction, error)
	MarkRollbackExecuted(deploymentID string, index int, execErr string) error

	// Current pointers per (domain, env)
	SetCurrent(domain string, env types.Environment, deploymentID string) error
	GetCurrent(domain string, env types.Environment) (string, error)
	ClearCurrent(domain string, env types.Environment) error
	LatestSuccessful(domain string, env types.Environment) (*types.Deployment, error)

	// Per-(domain, env) exclusive deployment locks
	AcquireLock(domain string, env types.Environment, deploymentID string) error
	ReleaseLock(domain string, env types.Environment, deploymentID string) error

	// Maintenance
	Clean(olderThan time.Duration) (int, error)
	Export(w io.Writer) error
	Import(r io.Reader) error

	// Utility
	Close() error
}
