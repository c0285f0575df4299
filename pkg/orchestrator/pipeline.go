package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clodo/orchestrate/pkg/database"
	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/events"
	"github.com/clodo/orchestrate/pkg/metrics"
	"github.com/clodo/orchestrate/pkg/platform"
	"github.com/clodo/orchestrate/pkg/rollback"
	"github.com/clodo/orchestrate/pkg/security"
	"github.com/clodo/orchestrate/pkg/storage"
	"github.com/clodo/orchestrate/pkg/types"
)

// pipelineRun is the mutable state of one domain's pipeline
type pipelineRun struct {
	o          *Orchestrator
	deployment *types.Deployment
	opts       Options
	logger     zerolog.Logger

	failedPhase types.Phase
	lockHeld    bool
	phaseIndex  int
}

// execute runs validate, prepare, deploy, verify in order with a deadline
// per phase. The first phase error aborts the run.
func (r *pipelineRun) execute(ctx context.Context) error {
	phases := []struct {
		phase types.Phase
		fn    func(context.Context) error
	}{
		{types.PhaseValidate, r.validate},
		{types.PhasePrepare, r.prepare},
		{types.PhaseDeploy, r.deploy},
		{types.PhaseVerify, r.verify},
	}

	for _, p := range phases {
		pctx, cancel := context.WithTimeout(ctx, r.opts.phaseDeadline())
		err := r.runPhase(pctx, p.phase, p.fn)
		cancel()
		if err != nil {
			r.failedPhase = p.phase
			return err
		}
	}
	return nil
}

func (r *pipelineRun) runPhase(ctx context.Context, phase types.Phase, fn func(context.Context) error) error {
	record := &types.PhaseRecord{
		Index:     r.phaseIndex,
		Phase:     phase,
		StartedAt: time.Now().UTC(),
	}
	r.phaseIndex++
	r.deployment.Phases = append(r.deployment.Phases, record)

	r.appendEvent(storage.EventStart, phase, "", "", "")
	r.o.publishPhase(events.EventPhaseStarted, r.deployment.ID, r.deployment.Domain, phase, "")
	r.logger.Info().Str("phase", string(phase)).Msg("phase started")

	err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("phase %s: %w", phase, errdefs.ErrCancelled)
	}

	record.FinishedAt = time.Now().UTC()
	if err != nil {
		record.Outcome = types.OutcomeFailed
		record.Error = err.Error()
		record.Category = errdefs.Categorize(err)
		r.appendEvent(storage.EventError, phase, "", record.Outcome, err.Error())
	} else {
		record.Outcome = types.OutcomeOK
		r.appendEvent(storage.EventEnd, phase, "", record.Outcome, "")
	}
	metrics.PhasesTotal.WithLabelValues(string(phase), string(record.Outcome)).Inc()
	r.o.publishPhase(events.EventPhaseCompleted, r.deployment.ID, r.deployment.Domain, phase, string(record.Outcome))
	return err
}

// validate checks everything that can fail without touching remote state
func (r *pipelineRun) validate(ctx context.Context) error {
	if !types.ValidEnvironment(r.deployment.Environment) {
		return errdefs.Validation("unknown environment %q", r.deployment.Environment)
	}
	if strings.TrimSpace(r.deployment.Domain) == "" {
		return errdefs.Validation("empty domain")
	}
	if a := r.opts.Assessment; a != nil {
		if blocked := a.BlockedGaps(); len(blocked) > 0 {
			return errdefs.Validation("assessment blocks deployment: %s", blocked[0].Reason)
		}
	}
	if r.opts.DryRun {
		return nil
	}
	if r.o.cfg.API == nil {
		return errdefs.Validation("no platform client configured")
	}
	if _, err := loadArtifact(r.o.cfg.ServicePath, r.opts.Assessment); err != nil {
		return err
	}
	return nil
}

// prepare acquires the per-(domain, env) lock and captures preimages for
// the mutations deploy is about to make.
func (r *pipelineRun) prepare(ctx context.Context) error {
	if r.opts.DryRun {
		return nil
	}
	if err := r.o.cfg.Store.AcquireLock(r.deployment.Domain, r.deployment.Environment, r.deployment.ID); err != nil {
		return err
	}
	r.lockHeld = true

	// snapshot the deploy config so a failed run can restore it
	configPath := filepath.Join(r.o.cfg.ServicePath, "wrangler.toml")
	pre := rollback.ConfigPreimage{Path: configPath}
	if data, err := os.ReadFile(configPath); err == nil {
		pre.Contents = data
		pre.Existed = true
	}
	return r.register(ctx, types.RollbackRevertConfig, configPath, pre)
}

// deploy runs the five ordered mutation steps. Each step registers its
// rollback action before mutating.
func (r *pipelineRun) deploy(ctx context.Context) error {
	if r.opts.DryRun {
		r.logger.Info().Msg("dry run: skipping mutations")
		return nil
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"ensure-database", r.stepDatabase},
		{"apply-migrations", r.stepMigrations},
		{"provision-secrets", r.stepSecrets},
		{"upload-worker", r.stepWorker},
		{"configure-dns", r.stepDNS},
	}
	for _, step := range steps {
		r.appendEvent(storage.EventStart, types.PhaseDeploy, step.name, "", "")
		if err := step.fn(ctx); err != nil {
			r.appendEvent(storage.EventError, types.PhaseDeploy, step.name, types.OutcomeFailed, err.Error())
			return fmt.Errorf("%s: %w", step.name, err)
		}
		r.appendEvent(storage.EventEnd, types.PhaseDeploy, step.name, types.OutcomeOK, "")
	}
	return nil
}

func (r *pipelineRun) stepDatabase(ctx context.Context) error {
	if r.o.cfg.DB == nil {
		return nil
	}
	domain, env := r.deployment.Domain, r.deployment.Environment
	name := database.DatabaseName(domain, env)

	// the inverse for a fresh database is deletion; for an existing
	// production database it is a snapshot restore
	if env == types.EnvProduction {
		if existing, err := r.databaseExists(ctx, name); err == nil && existing {
			backupID, err := r.o.cfg.DB.Backup(ctx, domain, env)
			if err != nil {
				return err
			}
			pre := rollback.DBPreimage{Domain: domain, Environment: env, BackupID: backupID}
			if err := r.register(ctx, types.RollbackRestoreDBSnapshot, name, pre); err != nil {
				return err
			}
			return nil
		}
	}

	pre := rollback.DBPreimage{Domain: domain, Environment: env}
	if err := r.register(ctx, types.RollbackDeleteDB, name, pre); err != nil {
		return err
	}
	_, created, err := r.o.cfg.DB.EnsureDatabase(ctx, domain, env)
	if err != nil {
		return err
	}
	if created {
		r.logger.Info().Str("database", name).Msg("database created")
	}
	return nil
}

func (r *pipelineRun) stepMigrations(ctx context.Context) error {
	if r.o.cfg.DB == nil {
		return nil
	}
	a := r.opts.Assessment
	if a == nil || a.Discovery == nil || !a.Discovery.HasMigrations {
		return nil
	}
	return r.o.cfg.DB.Migrate(ctx, r.deployment.Domain, r.deployment.Environment, a.Discovery.MigrationsDir)
}

func (r *pipelineRun) stepSecrets(ctx context.Context) error {
	if r.o.cfg.Tokens == nil {
		return nil
	}
	domain, env := r.deployment.Domain, r.deployment.Environment
	bundle, err := r.o.cfg.Tokens.GenerateDomainSpecific(domain, env, security.BundleOptions{ReuseExisting: true})
	if err != nil {
		return err
	}

	script := workerName(domain)
	for _, name := range sortedSecretNames(bundle.Secrets) {
		pre := rollback.SecretPreimage{Script: script, Name: name}
		if err := r.register(ctx, types.RollbackDeleteSecret, script+"/"+name, pre); err != nil {
			return err
		}
		if err := r.o.cfg.API.PutWorkerSecret(ctx, script, name, bundle.Secrets[name]); err != nil {
			return err
		}
	}
	return nil
}

func (r *pipelineRun) stepWorker(ctx context.Context) error {
	domain := r.deployment.Domain
	script := workerName(domain)

	content, err := loadArtifact(r.o.cfg.ServicePath, r.opts.Assessment)
	if err != nil {
		return err
	}

	previous, err := r.o.cfg.API.GetWorker(ctx, script)
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	if previous != nil {
		pre := rollback.ArtifactPreimage{
			Name:     previous.Name,
			Revision: previous.Revision,
			Content:  previous.Content,
			Bindings: previous.Bindings,
		}
		if err := r.register(ctx, types.RollbackRedeployPrevious, script, pre); err != nil {
			return err
		}
	}

	return r.o.cfg.API.UploadWorker(ctx, &platform.WorkerScript{
		Name:     script,
		Content:  content,
		Revision: r.deployment.Revision,
	})
}

func (r *pipelineRun) stepDNS(ctx context.Context) error {
	domain := r.deployment.Domain

	owned, err := r.o.cfg.API.VerifyZoneOwnership(ctx, domain)
	if err != nil || !owned {
		// DNS is best effort when the zone is not under this account
		r.logger.Warn().Str("domain", domain).Msg("zone not owned, skipping dns")
		return nil
	}

	records, err := r.o.cfg.API.ListDNSRecords(ctx, domain)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.Name == domain {
			return nil // route already published
		}
	}

	pre := rollback.DNSPreimage{Domain: domain, Name: domain}
	if err := r.register(ctx, types.RollbackDeleteDNS, domain, pre); err != nil {
		return err
	}
	_, err = r.o.cfg.API.CreateDNSRecord(ctx, domain, &platform.DNSRecord{
		Type:    "CNAME",
		Name:    domain,
		Content: workerName(domain) + ".workers.dev",
		Proxied: true,
	})
	return err
}

// verify probes the deployed endpoints. A failed verification fails the
// deployment; it is never advisory.
func (r *pipelineRun) verify(ctx context.Context) error {
	if r.opts.DryRun {
		return nil
	}
	var endpoints []string
	if a := r.opts.Assessment; a != nil && a.Manifest != nil {
		endpoints = a.Manifest.Endpoints
	}
	return r.o.cfg.Verifier(ctx, r.deployment.Domain, endpoints, r.o.cfg.Health)
}

// register persists one rollback action ahead of its mutation
func (r *pipelineRun) register(ctx context.Context, kind types.RollbackKind, target string, preimage any) error {
	data, err := json.Marshal(preimage)
	if err != nil {
		return err
	}
	action := &types.RollbackAction{
		Kind:         kind,
		DeploymentID: r.deployment.ID,
		Target:       target,
		Preimage:     data,
	}
	if err := r.o.cfg.Store.RegisterRollbackAction(action); err != nil {
		return fmt.Errorf("failed to register rollback action %s: %w", kind, err)
	}
	r.appendEvent(storage.EventRollbackRegistered, types.PhaseDeploy, string(kind), "", "")
	r.o.publishPhase(events.EventRollbackRegistered, r.deployment.ID, r.deployment.Domain, types.PhaseDeploy, string(kind))
	return nil
}

func (r *pipelineRun) appendEvent(kind storage.EventKind, phase types.Phase, step string, outcome types.PhaseOutcome, errStr string) {
	ev := &storage.PhaseEvent{
		DeploymentID: r.deployment.ID,
		Kind:         kind,
		Phase:        phase,
		Step:         step,
		Outcome:      outcome,
		Error:        errStr,
	}
	if errStr != "" {
		ev.Category = "generic"
	}
	if err := r.o.cfg.Store.AppendEvent(ev); err != nil {
		r.logger.Error().Err(err).Msg("failed to append phase event")
	}
}

func (r *pipelineRun) releaseLock() {
	if !r.lockHeld {
		return
	}
	if err := r.o.cfg.Store.ReleaseLock(r.deployment.Domain, r.deployment.Environment, r.deployment.ID); err != nil {
		r.logger.Error().Err(err).Msg("failed to release deployment lock")
	}
	r.lockHeld = false
}

func (r *pipelineRun) databaseExists(ctx context.Context, name string) (bool, error) {
	if r.o.cfg.API == nil {
		return false, nil
	}
	dbs, err := r.o.cfg.API.ListDatabases(ctx)
	if err != nil {
		return false, err
	}
	for _, db := range dbs {
		if db.Name == name {
			return true, nil
		}
	}
	return false, nil
}
