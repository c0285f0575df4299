package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/clodo/orchestrate/pkg/database"
	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/events"
	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/metrics"
	"github.com/clodo/orchestrate/pkg/platform"
	"github.com/clodo/orchestrate/pkg/security"
	"github.com/clodo/orchestrate/pkg/storage"
	"github.com/clodo/orchestrate/pkg/types"
)

// DBPreimage is the serialized prior state for database inverses
type DBPreimage struct {
	Domain      string            `json:"domain"`
	Environment types.Environment `json:"environment"`
	BackupID    string            `json:"backup_id,omitempty"`
}

// SecretPreimage names the worker secret a delete-secret inverse removes
type SecretPreimage struct {
	Script string `json:"script"`
	Name   string `json:"name"`
}

// TokenPreimage names the stored token a revoke-token inverse removes
type TokenPreimage struct {
	Service     string `json:"service"`
	Fingerprint string `json:"fingerprint"`
}

// ConfigPreimage carries a config file snapshot for revert-deploy-config
type ConfigPreimage struct {
	Path     string `json:"path"`
	Contents []byte `json:"contents"`
	// Existed is false when the mutation created the file; the inverse
	// then removes it instead of restoring contents.
	Existed bool `json:"existed"`
}

// ArtifactPreimage snapshots the previously deployed worker script so a
// redeploy-previous-artifact inverse can restore it byte for byte
type ArtifactPreimage struct {
	Name     string            `json:"name"`
	Revision string            `json:"revision"`
	Content  []byte            `json:"content"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// DNSPreimage identifies the record a revert-dns inverse deletes. The
// action is registered before the record exists, so RecordID is usually
// empty and the inverse resolves the record by name.
type DNSPreimage struct {
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	RecordID string `json:"record_id,omitempty"`
}

// ActionResult is the outcome of executing one inverse
type ActionResult struct {
	Index    int                `json:"index"`
	Kind     types.RollbackKind `json:"kind"`
	Target   string             `json:"target"`
	Skipped  bool               `json:"skipped"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// Result summarizes one rollback run over a deployment
type Result struct {
	DeploymentID string          `json:"deployment_id"`
	Executed     int             `json:"executed"`
	Failed       int             `json:"failed"`
	Skipped      int             `json:"skipped"`
	Partial      bool            `json:"partial"`
	Actions      []*ActionResult `json:"actions"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Manager replays registered rollback actions in strictly descending
// registration order. Inverse failures are recorded and never block the
// remaining actions.
type Manager struct {
	store  storage.Store
	api    platform.API
	db     *database.Orchestrator
	tokens *security.TokenManager
	broker *events.Broker
}

// Config wires the manager's collaborators. api, db, tokens, and broker
// may each be nil; actions needing an absent collaborator fail and are
// recorded like any other inverse failure.
type Config struct {
	Store  storage.Store
	API    platform.API
	DB     *database.Orchestrator
	Tokens *security.TokenManager
	Broker *events.Broker
}

// New creates a rollback manager
func New(cfg Config) *Manager {
	return &Manager{
		store:  cfg.Store,
		api:    cfg.API,
		db:     cfg.DB,
		tokens: cfg.Tokens,
		broker: cfg.Broker,
	}
}

// Plan returns the actions a rollback of deploymentID would execute, in
// execution (descending) order, without running anything.
func (m *Manager) Plan(deploymentID string) ([]*types.RollbackAction, error) {
	actions, err := m.store.ListRollbackActions(deploymentID)
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Index > actions[j].Index })
	return actions, nil
}

// Execute runs every unexecuted rollback action of the deployment in
// descending index order. Already-executed actions are skipped, so a
// second rollback of the same deployment is a no-op. The returned Result
// is never nil on a nil error; Partial is set when any inverse failed.
func (m *Manager) Execute(ctx context.Context, deploymentID string) (*Result, error) {
	actions, err := m.Plan(deploymentID)
	if err != nil {
		return nil, err
	}

	result := &Result{
		DeploymentID: deploymentID,
		StartedAt:    time.Now().UTC(),
	}
	logger := log.WithDeployment(deploymentID)

	for _, action := range actions {
		ar := &ActionResult{Index: action.Index, Kind: action.Kind, Target: action.Target}
		result.Actions = append(result.Actions, ar)

		if action.Executed {
			ar.Skipped = true
			result.Skipped++
			continue
		}

		start := time.Now()
		execErr := m.execute(ctx, action)
		ar.Duration = time.Since(start)

		if execErr != nil {
			ar.Error = execErr.Error()
			result.Failed++
			result.Partial = true
			metrics.RollbacksTotal.WithLabelValues(string(action.Kind), "failed").Inc()
			logger.Error().
				Int("index", action.Index).
				Str("kind", string(action.Kind)).
				Str("target", action.Target).
				Err(execErr).
				Msg("rollback action failed")
			m.publish(events.EventRollbackFailed, deploymentID, action, execErr.Error())
		} else {
			result.Executed++
			metrics.RollbacksTotal.WithLabelValues(string(action.Kind), "executed").Inc()
			logger.Info().
				Int("index", action.Index).
				Str("kind", string(action.Kind)).
				Str("target", action.Target).
				Msg("rollback action executed")
			m.publish(events.EventRollbackExecuted, deploymentID, action, "")
		}

		errStr := ""
		if execErr != nil {
			errStr = execErr.Error()
		}
		if err := m.store.MarkRollbackExecuted(deploymentID, action.Index, errStr); err != nil {
			return nil, fmt.Errorf("failed to mark rollback action %d: %w", action.Index, err)
		}
	}

	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// execute dispatches one inverse. Every inverse is idempotent: re-running
// against already-reverted state succeeds.
func (m *Manager) execute(ctx context.Context, action *types.RollbackAction) error {
	switch action.Kind {
	case types.RollbackDeleteDB:
		if m.db == nil {
			return fmt.Errorf("no database orchestrator wired for %s", action.Kind)
		}
		var pre DBPreimage
		if err := json.Unmarshal(action.Preimage, &pre); err != nil {
			return fmt.Errorf("corrupt preimage: %w", err)
		}
		return m.db.DeleteDatabase(ctx, action.Target, pre.Environment)

	case types.RollbackRestoreDBSnapshot:
		if m.db == nil {
			return fmt.Errorf("no database orchestrator wired for %s", action.Kind)
		}
		var pre DBPreimage
		if err := json.Unmarshal(action.Preimage, &pre); err != nil {
			return fmt.Errorf("corrupt preimage: %w", err)
		}
		return m.db.Restore(ctx, pre.Domain, pre.Environment, pre.BackupID)

	case types.RollbackRevertConfig:
		var pre ConfigPreimage
		if err := json.Unmarshal(action.Preimage, &pre); err != nil {
			return fmt.Errorf("corrupt preimage: %w", err)
		}
		if !pre.Existed {
			if err := os.Remove(pre.Path); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		}
		return os.WriteFile(pre.Path, pre.Contents, 0644)

	case types.RollbackDeleteSecret:
		if m.api == nil {
			return fmt.Errorf("no platform client wired for %s", action.Kind)
		}
		var pre SecretPreimage
		if err := json.Unmarshal(action.Preimage, &pre); err != nil {
			return fmt.Errorf("corrupt preimage: %w", err)
		}
		err := m.api.DeleteWorkerSecret(ctx, pre.Script, pre.Name)
		if errdefsNotFound(err) {
			return nil
		}
		return err

	case types.RollbackRevokeToken:
		if m.tokens == nil {
			return fmt.Errorf("no token manager wired for %s", action.Kind)
		}
		var pre TokenPreimage
		if err := json.Unmarshal(action.Preimage, &pre); err != nil {
			return fmt.Errorf("corrupt preimage: %w", err)
		}
		err := m.tokens.RevokeToken(pre.Service, pre.Fingerprint)
		if errdefsNotFound(err) {
			return nil
		}
		return err

	case types.RollbackRedeployPrevious:
		if m.api == nil {
			return fmt.Errorf("no platform client wired for %s", action.Kind)
		}
		var pre ArtifactPreimage
		if err := json.Unmarshal(action.Preimage, &pre); err != nil {
			return fmt.Errorf("corrupt preimage: %w", err)
		}
		return m.api.UploadWorker(ctx, &platform.WorkerScript{
			Name:     pre.Name,
			Content:  pre.Content,
			Revision: pre.Revision,
			Bindings: pre.Bindings,
		})

	case types.RollbackDeleteDNS:
		if m.api == nil {
			return fmt.Errorf("no platform client wired for %s", action.Kind)
		}
		var pre DNSPreimage
		if err := json.Unmarshal(action.Preimage, &pre); err != nil {
			return fmt.Errorf("corrupt preimage: %w", err)
		}
		recordID := pre.RecordID
		if recordID == "" {
			records, err := m.api.ListDNSRecords(ctx, pre.Domain)
			if err != nil {
				return err
			}
			for _, record := range records {
				if record.Name == pre.Name {
					recordID = record.ID
					break
				}
			}
			if recordID == "" {
				// record never materialized; nothing to revert
				return nil
			}
		}
		err := m.api.DeleteDNSRecord(ctx, pre.Domain, recordID)
		if errdefsNotFound(err) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown rollback kind %q", action.Kind)
	}
}

func (m *Manager) publish(typ events.EventType, deploymentID string, action *types.RollbackAction, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:    typ,
		Message: msg,
		Metadata: map[string]string{
			"deployment_id": deploymentID,
			"kind":          string(action.Kind),
			"target":        action.Target,
		},
	})
}

// errdefsNotFound treats already-absent targets as a successful inverse
func errdefsNotFound(err error) bool {
	return err != nil && errdefs.IsNotFound(err)
}
