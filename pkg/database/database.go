package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/types"
)

// Confirmer answers destructive-operation prompts. The CLI injects an
// interactive implementation; automation gets the non-interactive one,
// which auto-declines.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// AutoDecline is the non-interactive Confirmer
type AutoDecline struct{}

func (AutoDecline) Confirm(string) (bool, error) { return false, nil }

// CleanupMode selects which fixed SQL script a cleanup runs
type CleanupMode string

const (
	CleanupLogsOnly CleanupMode = "logs-only"
	CleanupPartial  CleanupMode = "partial"
	CleanupFull     CleanupMode = "full"
)

var cleanupScripts = map[CleanupMode]string{
	CleanupLogsOnly: "DELETE FROM request_logs; DELETE FROM error_logs;",
	CleanupPartial:  "DELETE FROM request_logs; DELETE FROM error_logs; DELETE FROM sessions; DELETE FROM cache_entries;",
	CleanupFull:     "DELETE FROM request_logs; DELETE FROM error_logs; DELETE FROM sessions; DELETE FROM cache_entries; DELETE FROM users; DELETE FROM records;",
}

// Runner executes the platform CLI. Tests substitute a fake; production
// uses WranglerRunner.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// WranglerRunner shells out to the wrangler binary
type WranglerRunner struct {
	// Binary overrides the executable name (default "wrangler")
	Binary string
	// Dir is the working directory for invocations
	Dir string
}

func (r *WranglerRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	binary := r.Binary
	if binary == "" {
		binary = "wrangler"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("wrangler %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Orchestrator coordinates migrations, backups, and cleanup across
// environments
type Orchestrator struct {
	runner    Runner
	confirmer Confirmer
	backupDir string
	auditPath string
}

// Config configures the database orchestrator
type Config struct {
	Runner    Runner
	Confirmer Confirmer
	// BackupDir defaults to backups/database
	BackupDir string
	// AuditPath defaults to audit-logs/database-audit.log
	AuditPath string
}

// New creates a database orchestrator
func New(cfg Config) *Orchestrator {
	if cfg.Runner == nil {
		cfg.Runner = &WranglerRunner{}
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = AutoDecline{}
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join("backups", "database")
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = filepath.Join("audit-logs", "database-audit.log")
	}
	return &Orchestrator{
		runner:    cfg.Runner,
		confirmer: cfg.Confirmer,
		backupDir: cfg.BackupDir,
		auditPath: cfg.AuditPath,
	}
}

// DatabaseName computes the canonical database name for (domain, env):
// dots become dashes, suffixed with the environment.
func DatabaseName(domain string, env types.Environment) string {
	return strings.ReplaceAll(domain, ".", "-") + "-" + string(env)
}

// remoteFlag picks the wrangler locality flag: development runs against
// the local simulator, everything else against the remote platform.
func remoteFlag(env types.Environment) string {
	if env == types.EnvDevelopment {
		return "--local"
	}
	return "--remote"
}

// wranglerList mirrors one entry of `wrangler d1 list --json`
type wranglerList struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// EnsureDatabase creates the database for (domain, env) if absent and
// returns its name plus whether this call created it.
func (o *Orchestrator) EnsureDatabase(ctx context.Context, domain string, env types.Environment) (string, bool, error) {
	name := DatabaseName(domain, env)

	out, err := o.runner.Run(ctx, "d1", "list", "--json")
	if err != nil {
		return "", false, errdefs.Transient("d1 list: %v", err)
	}
	var existing []wranglerList
	if err := json.Unmarshal(out, &existing); err != nil {
		return "", false, fmt.Errorf("unexpected d1 list output: %w", err)
	}
	for _, db := range existing {
		if db.Name == name {
			return name, false, nil
		}
	}

	if _, err := o.runner.Run(ctx, "d1", "create", name); err != nil {
		return "", false, fmt.Errorf("d1 create %s: %w", name, err)
	}
	o.audit("create", name, env, "")
	return name, true, nil
}

// DeleteDatabase removes the database by name. Idempotent: deleting a
// database that is already gone is a no-op.
func (o *Orchestrator) DeleteDatabase(ctx context.Context, name string, env types.Environment) error {
	_, err := o.runner.Run(ctx, "d1", "delete", name, "--skip-confirmation")
	if err != nil && !strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("d1 delete %s: %w", name, err)
	}
	o.audit("delete", name, env, "")
	return nil
}

// Migrate applies pending migrations for (domain, env). Production
// requires a prior backup in the same orchestrator lifetime; the backup id
// is recorded in the audit stream.
func (o *Orchestrator) Migrate(ctx context.Context, domain string, env types.Environment, migrationsDir string) error {
	name := DatabaseName(domain, env)

	if env == types.EnvProduction {
		backupID, err := o.Backup(ctx, domain, env)
		if err != nil {
			return fmt.Errorf("pre-migration backup: %w", err)
		}
		o.audit("pre-migration-backup", name, env, backupID)
	}

	args := []string{"d1", "migrations", "apply", name, remoteFlag(env)}
	if migrationsDir != "" {
		args = append(args, "--migrations-dir", migrationsDir)
	}
	if _, err := o.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("migrations apply %s: %w", name, err)
	}
	o.audit("migrate", name, env, "")
	return nil
}

// BackupManifest describes one backup directory
type BackupManifest struct {
	ID          string            `json:"id"`
	Database    string            `json:"database"`
	Environment types.Environment `json:"environment"`
	CreatedAt   time.Time         `json:"created_at"`
	File        string            `json:"file"`
}

// Backup exports the database under backups/database/<env>/<backup-id>/
// with a manifest, returning the backup id.
func (o *Orchestrator) Backup(ctx context.Context, domain string, env types.Environment) (string, error) {
	name := DatabaseName(domain, env)
	backupID := "backup-" + time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	dir := filepath.Join(o.backupDir, string(env), backupID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	dumpPath := filepath.Join(dir, name+".sql")
	if _, err := o.runner.Run(ctx, "d1", "export", name, remoteFlag(env), "--output", dumpPath); err != nil {
		return "", fmt.Errorf("d1 export %s: %w", name, err)
	}

	manifest := BackupManifest{
		ID:          backupID,
		Database:    name,
		Environment: env,
		CreatedAt:   time.Now().UTC(),
		File:        filepath.Base(dumpPath),
	}
	data, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "backup-manifest.json"), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup manifest: %w", err)
	}

	o.audit("backup", name, env, backupID)
	return backupID, nil
}

// Restore replays a backup dump into the database
func (o *Orchestrator) Restore(ctx context.Context, domain string, env types.Environment, backupID string) error {
	name := DatabaseName(domain, env)
	dir := filepath.Join(o.backupDir, string(env), backupID)

	data, err := os.ReadFile(filepath.Join(dir, "backup-manifest.json"))
	if err != nil {
		return errdefs.NotFound("backup %s: %v", backupID, err)
	}
	var manifest BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("corrupt backup manifest %s: %w", backupID, err)
	}

	dumpPath := filepath.Join(dir, manifest.File)
	if _, err := o.runner.Run(ctx, "d1", "execute", name, remoteFlag(env), "--file", dumpPath); err != nil {
		return fmt.Errorf("restore %s from %s: %w", name, backupID, err)
	}
	o.audit("restore", name, env, backupID)
	return nil
}

// Cleanup runs the fixed SQL script for mode. Full cleanup on production
// requires double confirmation and is refused when the confirmer declines
// (the non-interactive confirmer always declines).
func (o *Orchestrator) Cleanup(ctx context.Context, domain string, env types.Environment, mode CleanupMode) error {
	script, ok := cleanupScripts[mode]
	if !ok {
		return errdefs.Validation("unknown cleanup mode %q", mode)
	}
	name := DatabaseName(domain, env)

	if mode == CleanupFull && env == types.EnvProduction {
		first, err := o.confirmer.Confirm(fmt.Sprintf("Fully wipe %s on PRODUCTION?", name))
		if err != nil {
			return err
		}
		if !first {
			return errdefs.Validation("full cleanup of %s declined", name)
		}
		second, err := o.confirmer.Confirm(fmt.Sprintf("This deletes ALL data in %s. Type yes again to proceed.", name))
		if err != nil {
			return err
		}
		if !second {
			return errdefs.Validation("full cleanup of %s declined at second confirmation", name)
		}
	}

	if _, err := o.runner.Run(ctx, "d1", "execute", name, remoteFlag(env), "--command", script); err != nil {
		return fmt.Errorf("cleanup %s (%s): %w", name, mode, err)
	}
	o.audit("cleanup-"+string(mode), name, env, "")
	return nil
}

// audit appends one line to the database audit stream. Failures are
// logged, never fatal.
func (o *Orchestrator) audit(op, database string, env types.Environment, related string) {
	entry := map[string]string{
		"at":       time.Now().UTC().Format(time.RFC3339),
		"op":       op,
		"database": database,
		"env":      string(env),
	}
	if related != "" {
		entry["related"] = related
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(o.auditPath), 0755); err != nil {
		log.Errorf("failed to create audit-logs directory", err)
		return
	}
	f, err := os.OpenFile(o.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Errorf("failed to open database audit log", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Errorf("failed to append database audit record", err)
	}
}
