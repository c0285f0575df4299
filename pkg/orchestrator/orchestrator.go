package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clodo/orchestrate/pkg/assess"
	"github.com/clodo/orchestrate/pkg/coordinator"
	"github.com/clodo/orchestrate/pkg/database"
	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/events"
	"github.com/clodo/orchestrate/pkg/health"
	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/metrics"
	"github.com/clodo/orchestrate/pkg/platform"
	"github.com/clodo/orchestrate/pkg/rollback"
	"github.com/clodo/orchestrate/pkg/security"
	"github.com/clodo/orchestrate/pkg/storage"
	"github.com/clodo/orchestrate/pkg/types"
)

const (
	// DefaultParallelism bounds concurrent per-domain pipelines in a batch
	DefaultParallelism = 3
	// DefaultPhaseDeadline bounds one phase of one domain
	DefaultPhaseDeadline = 5 * time.Minute
)

// Verifier probes a deployed domain. The production verifier is
// health.VerifyDeployment; tests substitute fakes.
type Verifier func(ctx context.Context, domain string, endpoints []string, cfg health.Config) error

// Config wires the orchestrator's collaborators
type Config struct {
	Store    storage.Store
	API      platform.API
	DB       *database.Orchestrator
	Tokens   *security.TokenManager
	Rollback *rollback.Manager
	Broker   *events.Broker
	// Coord shares per-run intents (dry-run) across concurrent pipelines
	Coord  *coordinator.Coordinator
	Health health.Config
	// Verifier defaults to health.VerifyDeployment
	Verifier Verifier
	// ServicePath is the service source directory an artifact is loaded from
	ServicePath string
}

// Options controls one orchestration run
type Options struct {
	Environment types.Environment
	// Parallelism is the batch width (default 3)
	Parallelism int
	// NoRollback leaves failed deployments as-is for inspection
	NoRollback bool
	DryRun     bool
	// PhaseDeadline bounds each phase (default 5 minutes)
	PhaseDeadline time.Duration
	// Assessment carries the pre-flight result; endpoints and migrations
	// come from it when present
	Assessment *assess.CapabilityAssessment
	User       string
	Revision   string
}

func (o *Options) parallelism() int {
	if o.Parallelism <= 0 {
		return DefaultParallelism
	}
	return o.Parallelism
}

func (o *Options) phaseDeadline() time.Duration {
	if o.PhaseDeadline <= 0 {
		return DefaultPhaseDeadline
	}
	return o.PhaseDeadline
}

// Orchestrator runs the validate/prepare/deploy/verify pipeline per domain
// and schedules domains into rate-bounded parallel batches.
type Orchestrator struct {
	cfg Config
}

// New creates an orchestrator
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errdefs.Validation("orchestrator requires a state store")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = health.VerifyDeployment
	}
	return &Orchestrator{cfg: cfg}, nil
}

// PlanDeployment splits domains into ordered batches of the configured
// parallelism. Order within the input is preserved.
func (o *Orchestrator) PlanDeployment(domains []string, opts Options) [][]string {
	width := opts.parallelism()
	var batches [][]string
	for len(domains) > 0 {
		n := width
		if n > len(domains) {
			n = len(domains)
		}
		batches = append(batches, domains[:n])
		domains = domains[n:]
	}
	return batches
}

// Deploy runs the portfolio: each batch deploys its domains concurrently,
// and the next batch starts only after every pipeline of the previous
// batch reached a terminal state. A failed domain aborts the remaining
// batches unless rollback is disabled. An empty portfolio succeeds.
func (o *Orchestrator) Deploy(ctx context.Context, portfolio string, domains []string, opts Options) (*types.PortfolioResult, error) {
	result := &types.PortfolioResult{
		Portfolio: portfolio,
		Status:    types.DeploymentSucceeded,
		StartedAt: time.Now().UTC(),
	}
	logger := log.WithComponent("orchestrator")

	// publish the run intent so every pipeline resolves the same mode
	if o.cfg.Coord != nil {
		if err := o.cfg.Coord.Share(coordinator.KeyDryRun, "orchestrator", opts.DryRun); err != nil {
			return nil, err
		}
		defer func() {
			if rerr := o.cfg.Coord.Release(coordinator.KeyDryRun, "orchestrator"); rerr != nil {
				logger.Warn().Err(rerr).Msg("failed to release dry-run intent")
			}
		}()
	}

	batches := o.PlanDeployment(domains, opts)
	for i, batch := range batches {
		o.publish(events.EventBatchStarted, "", "", fmt.Sprintf("batch %d/%d: %s", i+1, len(batches), strings.Join(batch, ", ")))
		logger.Info().
			Int("batch", i+1).
			Int("batches", len(batches)).
			Strs("domains", batch).
			Msg("starting deployment batch")

		g, gctx := errgroup.WithContext(ctx)
		batchResults := make([]*types.DomainResult, len(batch))
		for j, domain := range batch {
			j, domain := j, domain
			g.Go(func() error {
				batchResults[j] = o.DeploySingle(gctx, domain, opts)
				return nil
			})
		}
		// barrier: every pipeline in the batch terminates before the next
		// batch starts
		_ = g.Wait()

		failed := false
		for _, dr := range batchResults {
			result.Results = append(result.Results, dr)
			if dr.Status != types.DeploymentSucceeded {
				failed = true
			}
		}
		o.publish(events.EventBatchCompleted, "", "", fmt.Sprintf("batch %d/%d done", i+1, len(batches)))

		if failed {
			result.Status = types.DeploymentFailed
			if !opts.NoRollback {
				// remaining batches never start
				for _, rest := range batches[i+1:] {
					for _, domain := range rest {
						result.Results = append(result.Results, &types.DomainResult{
							Domain:      domain,
							Environment: opts.Environment,
							Status:      types.DeploymentFailed,
							Error:       "aborted: earlier batch failed",
							Category:    "cancelled",
						})
					}
				}
				break
			}
		}
		if err := ctx.Err(); err != nil {
			result.Status = types.DeploymentFailed
			break
		}
	}

	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// DeploySingle runs the full pipeline for one domain. It never returns an
// error; every failure mode is captured in the DomainResult.
func (o *Orchestrator) DeploySingle(ctx context.Context, domain string, opts Options) *types.DomainResult {
	// a shared dry-run intent wins over the per-call option so one pipeline
	// can never mutate while the rest of the run rehearses
	if o.cfg.Coord != nil {
		if v, ok := o.cfg.Coord.Get(coordinator.KeyDryRun); ok {
			if dry, _ := v.(bool); dry {
				opts.DryRun = true
			}
		}
	}
	start := time.Now()
	deployment := &types.Deployment{
		ID:          newDeploymentID(),
		Domain:      domain,
		Environment: opts.Environment,
		Revision:    opts.Revision,
		Status:      types.DeploymentRunning,
		StartedAt:   start.UTC(),
		User:        opts.User,
	}
	result := &types.DomainResult{
		Domain:       domain,
		Environment:  opts.Environment,
		DeploymentID: deployment.ID,
	}
	logger := log.WithDeployment(deployment.ID)

	if err := o.cfg.Store.CreateDeployment(deployment); err != nil {
		result.Status = types.DeploymentFailed
		result.Error = err.Error()
		result.Category = errdefs.Categorize(err)
		return result
	}
	o.publish(events.EventDeploymentStarted, deployment.ID, domain, "deployment started")

	run := &pipelineRun{
		o:          o,
		deployment: deployment,
		opts:       opts,
		logger:     logger,
	}

	err := run.execute(ctx)
	result.Duration = time.Since(start)

	if err == nil {
		run.releaseLock()
		deployment.Status = types.DeploymentSucceeded
		deployment.FinishedAt = time.Now().UTC()
		o.finishDeployment(deployment)
		if serr := o.cfg.Store.SetCurrent(domain, opts.Environment, deployment.ID); serr != nil {
			logger.Error().Err(serr).Msg("failed to set current pointer")
		}
		result.Status = types.DeploymentSucceeded
		o.publish(events.EventDeploymentSucceeded, deployment.ID, domain, "deployment succeeded")
		metrics.DeploymentsTotal.WithLabelValues(string(opts.Environment), "succeeded").Inc()
		metrics.DeploymentDuration.WithLabelValues(string(opts.Environment)).Observe(result.Duration.Seconds())
		return result
	}

	result.FailedPhase = run.failedPhase
	result.Error = err.Error()
	result.Category = errdefs.Categorize(err)
	deployment.Status = types.DeploymentFailed
	o.publish(events.EventDeploymentFailed, deployment.ID, domain, err.Error())
	metrics.DeploymentsTotal.WithLabelValues(string(opts.Environment), "failed").Inc()
	logger.Error().
		Str("phase", string(run.failedPhase)).
		Str("category", result.Category).
		Err(err).
		Msg("deployment failed")

	if opts.NoRollback || o.cfg.Rollback == nil {
		result.Status = types.DeploymentFailed
		deployment.FinishedAt = time.Now().UTC()
		o.finishDeployment(deployment)
		run.releaseLock()
		return result
	}

	rb, rerr := o.cfg.Rollback.Execute(ctx, deployment.ID)
	switch {
	case rerr != nil:
		result.Status = types.DeploymentFailed
		result.PartialRollback = true
		logger.Error().Err(rerr).Msg("rollback did not run")
	case rb.Partial:
		result.Status = types.DeploymentPartial
		result.PartialRollback = true
	default:
		result.Status = types.DeploymentRolledBack
	}
	deployment.Status = result.Status
	deployment.FinishedAt = time.Now().UTC()
	o.finishDeployment(deployment)
	run.releaseLock()
	return result
}

// Rollback re-runs the rollback actions of an existing deployment,
// updates its status, and repoints the current marker at the latest
// remaining successful deployment of the (domain, env) pair. With no
// successful predecessor the marker is cleared.
func (o *Orchestrator) Rollback(ctx context.Context, deploymentID string) (*rollback.Result, error) {
	if o.cfg.Rollback == nil {
		return nil, errdefs.Validation("no rollback manager configured")
	}
	deployment, err := o.cfg.Store.GetDeployment(deploymentID)
	if err != nil {
		return nil, err
	}

	result, err := o.cfg.Rollback.Execute(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	// an already rolled-back deployment keeps its terminal status; a
	// succeeded one leaves the successful set before the repoint below
	switch deployment.Status {
	case types.DeploymentRunning, types.DeploymentFailed, types.DeploymentSucceeded:
		if result.Partial {
			deployment.Status = types.DeploymentPartial
		} else {
			deployment.Status = types.DeploymentRolledBack
		}
		deployment.FinishedAt = time.Now().UTC()
		o.finishDeployment(deployment)
	}
	o.repointCurrent(deployment.Domain, deployment.Environment, deploymentID)
	return result, nil
}

// repointCurrent moves the current marker off rolledBackID to the latest
// successful deployment, or clears it when none remains.
func (o *Orchestrator) repointCurrent(domain string, env types.Environment, rolledBackID string) {
	logger := log.WithDeployment(rolledBackID)
	prior, err := o.cfg.Store.LatestSuccessful(domain, env)
	if err == nil && prior.ID != rolledBackID {
		if serr := o.cfg.Store.SetCurrent(domain, env, prior.ID); serr != nil {
			logger.Warn().Err(serr).Msg("failed to repoint current pointer")
		}
		return
	}
	if err != nil && !errdefs.IsNotFound(err) {
		logger.Warn().Err(err).Msg("failed to look up prior successful deployment")
	}
	if cerr := o.cfg.Store.ClearCurrent(domain, env); cerr != nil {
		logger.Warn().Err(cerr).Msg("failed to clear current pointer")
	}
}

// RollbackTo restores a past successful deployment: the current
// deployment of the target's (domain, env) pair is rolled back and the
// current marker is pointed at the target.
func (o *Orchestrator) RollbackTo(ctx context.Context, targetID string) (*rollback.Result, error) {
	if o.cfg.Rollback == nil {
		return nil, errdefs.Validation("no rollback manager configured")
	}
	target, err := o.cfg.Store.GetDeployment(targetID)
	if err != nil {
		return nil, err
	}
	if target.Status != types.DeploymentSucceeded {
		return nil, errdefs.Validation("deployment %s is %s, only a succeeded deployment can be restored", targetID, target.Status)
	}

	currentID, err := o.cfg.Store.GetCurrent(target.Domain, target.Environment)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, errdefs.Validation("no current deployment for %s/%s to roll back", target.Domain, target.Environment)
		}
		return nil, err
	}
	if currentID == targetID {
		return nil, errdefs.Validation("deployment %s is already current", targetID)
	}

	current, err := o.cfg.Store.GetDeployment(currentID)
	if err != nil {
		return nil, err
	}

	result, err := o.cfg.Rollback.Execute(ctx, currentID)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case types.DeploymentRunning, types.DeploymentFailed, types.DeploymentSucceeded:
		if result.Partial {
			current.Status = types.DeploymentPartial
		} else {
			current.Status = types.DeploymentRolledBack
		}
		current.FinishedAt = time.Now().UTC()
		o.finishDeployment(current)
	}

	if err := o.cfg.Store.SetCurrent(target.Domain, target.Environment, targetID); err != nil {
		return result, fmt.Errorf("rolled back %s but failed to repoint current: %w", currentID, err)
	}
	logger := log.WithDeployment(currentID)
	logger.Info().
		Str("restored", targetID).
		Str("domain", target.Domain).
		Msg("rolled back to prior deployment")
	return result, nil
}

func (o *Orchestrator) finishDeployment(d *types.Deployment) {
	if err := o.cfg.Store.UpdateDeployment(d); err != nil {
		logger := log.WithDeployment(d.ID)
		logger.Error().Err(err).Msg("failed to persist deployment")
	}
}

func (o *Orchestrator) publish(typ events.EventType, deploymentID, domain, msg string) {
	if o.cfg.Broker == nil {
		return
	}
	o.cfg.Broker.Publish(&events.Event{
		Type:    typ,
		Message: msg,
		Metadata: map[string]string{
			"deployment_id": deploymentID,
			"domain":        domain,
		},
	})
}

func (o *Orchestrator) publishPhase(typ events.EventType, deploymentID, domain string, phase types.Phase, msg string) {
	if o.cfg.Broker == nil {
		return
	}
	o.cfg.Broker.PublishPhase(typ, deploymentID, domain, string(phase), msg)
}

func newDeploymentID() string {
	return "deploy-" + time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// workerName maps a domain to its worker script name
func workerName(domain string) string {
	return strings.ReplaceAll(domain, ".", "-")
}

// loadArtifact reads the worker entry point named by the deploy manifest.
// Without a manifest or entry file the artifact is empty and the upload
// step fails validation upstream.
func loadArtifact(servicePath string, a *assess.CapabilityAssessment) ([]byte, error) {
	if a == nil || a.Discovery == nil || a.Discovery.DeployManifest == nil {
		return nil, errdefs.Validation("no deploy manifest discovered in %s", servicePath)
	}
	main := a.Discovery.DeployManifest.Main
	if main == "" {
		return nil, errdefs.Validation("deploy manifest names no entry point")
	}
	content, err := os.ReadFile(filepath.Join(servicePath, main))
	if err != nil {
		return nil, errdefs.Validation("entry point %s: %v", main, err)
	}
	return content, nil
}

// sortedSecretNames gives the deterministic provisioning order
func sortedSecretNames(secrets map[string]string) []string {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
