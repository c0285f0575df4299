package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/clodo/orchestrate/pkg/assess"
	"github.com/clodo/orchestrate/pkg/coordinator"
	"github.com/clodo/orchestrate/pkg/database"
	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/health"
	"github.com/clodo/orchestrate/pkg/platform"
	"github.com/clodo/orchestrate/pkg/rollback"
	"github.com/clodo/orchestrate/pkg/security"
	"github.com/clodo/orchestrate/pkg/storage"
	"github.com/clodo/orchestrate/pkg/types"
)

// fakeAPI is a stateful in-memory platform safe for concurrent pipelines
type fakeAPI struct {
	platform.API

	mu            sync.Mutex
	workers       map[string]*platform.WorkerScript
	secrets       map[string]string
	records       []*platform.DNSRecord
	zoneOwned     bool
	uploads       []string
	secretPuts    []string
	secretDeletes []string
	recordDeletes []string
	nextRecordID  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		workers:   make(map[string]*platform.WorkerScript),
		secrets:   make(map[string]string),
		zoneOwned: true,
	}
}

func (f *fakeAPI) GetWorker(ctx context.Context, name string) (*platform.WorkerScript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workers[name]
	if !ok {
		return nil, errdefs.NotFound("worker %s", name)
	}
	return w, nil
}

func (f *fakeAPI) UploadWorker(ctx context.Context, script *platform.WorkerScript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[script.Name] = script
	f.uploads = append(f.uploads, script.Name)
	return nil
}

func (f *fakeAPI) PutWorkerSecret(ctx context.Context, script, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[script+"/"+name] = value
	f.secretPuts = append(f.secretPuts, script+"/"+name)
	return nil
}

func (f *fakeAPI) DeleteWorkerSecret(ctx context.Context, script, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.secrets, script+"/"+name)
	f.secretDeletes = append(f.secretDeletes, script+"/"+name)
	return nil
}

func (f *fakeAPI) VerifyZoneOwnership(ctx context.Context, domain string) (bool, error) {
	return f.zoneOwned, nil
}

func (f *fakeAPI) ListDNSRecords(ctx context.Context, domain string) ([]*platform.DNSRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*platform.DNSRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeAPI) CreateDNSRecord(ctx context.Context, domain string, record *platform.DNSRecord) (*platform.DNSRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRecordID++
	record.ID = fmt.Sprintf("rec-%d", f.nextRecordID)
	f.records = append(f.records, record)
	return record, nil
}

func (f *fakeAPI) DeleteDNSRecord(ctx context.Context, domain, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, record := range f.records {
		if record.ID == recordID {
			f.records = append(f.records[:i], f.records[i+1:]...)
			break
		}
	}
	f.recordDeletes = append(f.recordDeletes, recordID)
	return nil
}

func (f *fakeAPI) ListDatabases(ctx context.Context) ([]*platform.D1Database, error) {
	return nil, nil
}

// fakeRunner answers wrangler invocations without a subprocess
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if len(args) >= 2 && args[0] == "d1" && args[1] == "list" {
		return []byte("[]"), nil
	}
	return nil, nil
}

type harness struct {
	orch       *Orchestrator
	store      storage.Store
	api        *fakeAPI
	runner     *fakeRunner
	coord      *coordinator.Coordinator
	serviceDir string
	verifyErr  func(domain string) error
	assessment *assess.CapabilityAssessment
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	serviceDir := filepath.Join(dir, "service")
	if err := os.MkdirAll(filepath.Join(serviceDir, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	manifest := "name = \"api-worker\"\nmain = \"src/index.js\"\nroute = \"api.example.com/*\"\n"
	if err := os.WriteFile(filepath.Join(serviceDir, "wrangler.toml"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(serviceDir, "src", "index.js"), []byte("export default {}"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewBoltStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	tokens, err := security.NewTokenManager(security.TokenManagerConfig{Dir: filepath.Join(dir, "tokens")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tokens.Stop)

	api := newFakeAPI()
	runner := &fakeRunner{}
	db := database.New(database.Config{
		Runner:    runner,
		BackupDir: filepath.Join(dir, "backups"),
		AuditPath: filepath.Join(dir, "audit.log"),
	})
	rb := rollback.New(rollback.Config{Store: store, API: api, DB: db, Tokens: tokens})

	h := &harness{store: store, api: api, runner: runner, coord: coordinator.New(), serviceDir: serviceDir}

	orch, err := New(Config{
		Store:       store,
		API:         api,
		DB:          db,
		Tokens:      tokens,
		Rollback:    rb,
		Coord:       h.coord,
		ServicePath: serviceDir,
		Verifier: func(ctx context.Context, domain string, endpoints []string, cfg health.Config) error {
			if h.verifyErr != nil {
				return h.verifyErr(domain)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.orch = orch

	discovery, err := assess.Discover(serviceDir)
	if err != nil {
		t.Fatal(err)
	}
	h.assessment = &assess.CapabilityAssessment{
		ServiceType: "data-service",
		Discovery:   discovery,
		Manifest:    assess.BuildManifest("data-service", types.EnvStaging),
	}
	return h
}

func (h *harness) options() Options {
	return Options{
		Environment: types.EnvStaging,
		Assessment:  h.assessment,
		Revision:    "rev-1",
		User:        "tester",
	}
}

func actionKinds(t *testing.T, store storage.Store, deploymentID string) []types.RollbackKind {
	t.Helper()
	actions, err := store.ListRollbackActions(deploymentID)
	if err != nil {
		t.Fatal(err)
	}
	kinds := make([]types.RollbackKind, len(actions))
	for i, a := range actions {
		kinds[i] = a.Kind
	}
	return kinds
}

// TestDeploySingleSuccess tests the full happy path for one domain
func TestDeploySingleSuccess(t *testing.T) {
	h := newHarness(t)

	result := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if result.Status != types.DeploymentSucceeded {
		t.Fatalf("status = %s (%s), want succeeded", result.Status, result.Error)
	}

	// rollback actions were registered ahead of each mutation, in order
	kinds := actionKinds(t, h.store, result.DeploymentID)
	want := []types.RollbackKind{
		types.RollbackRevertConfig,
		types.RollbackDeleteDB,
		types.RollbackDeleteSecret,
		types.RollbackDeleteSecret,
		types.RollbackDeleteSecret,
		types.RollbackDeleteSecret,
		types.RollbackDeleteDNS,
	}
	if len(kinds) != len(want) {
		t.Fatalf("registered kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("action %d = %s, want %s", i, kinds[i], want[i])
		}
	}

	// worker uploaded with the entry point content under the dashed name
	script, ok := h.api.workers["api-example-com"]
	if !ok || string(script.Content) != "export default {}" || script.Revision != "rev-1" {
		t.Errorf("uploaded worker = %+v", script)
	}

	// DNS route points the domain at the worker
	if len(h.api.records) != 1 {
		t.Fatalf("records = %+v, want one", h.api.records)
	}
	record := h.api.records[0]
	if record.Type != "CNAME" || record.Name != "api.example.com" || record.Content != "api-example-com.workers.dev" || !record.Proxied {
		t.Errorf("record = %+v", record)
	}

	// current pointer set, lock released
	current, err := h.store.GetCurrent("api.example.com", types.EnvStaging)
	if err != nil || current != result.DeploymentID {
		t.Errorf("current = (%q, %v), want the new deployment", current, err)
	}
	if err := h.store.AcquireLock("api.example.com", types.EnvStaging, "other"); err != nil {
		t.Errorf("lock still held after success: %v", err)
	}

	stored, err := h.store.GetDeployment(result.DeploymentID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.DeploymentSucceeded || len(stored.Phases) != 4 {
		t.Errorf("stored deployment = %+v", stored)
	}
}

// TestDeploySingleVerifyFailureRollsBack tests the reverse-order unwind
func TestDeploySingleVerifyFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.verifyErr = func(string) error { return errors.New("health probe failed") }

	result := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if result.Status != types.DeploymentRolledBack {
		t.Fatalf("status = %s (%s), want rolled-back", result.Status, result.Error)
	}
	if result.FailedPhase != types.PhaseVerify {
		t.Errorf("failed phase = %s, want verify", result.FailedPhase)
	}
	if result.PartialRollback {
		t.Error("clean rollback flagged partial")
	}

	// the DNS record (registered last) was removed first, then the secrets
	// in reverse provisioning order
	if len(h.api.recordDeletes) != 1 {
		t.Errorf("record deletes = %v, want the created record removed", h.api.recordDeletes)
	}
	wantSecrets := []string{
		"api-example-com/WEBHOOK_SECRET",
		"api-example-com/SESSION_SECRET",
		"api-example-com/JWT_SECRET",
		"api-example-com/API_KEY",
	}
	if len(h.api.secretDeletes) != len(wantSecrets) {
		t.Fatalf("secret deletes = %v, want %v", h.api.secretDeletes, wantSecrets)
	}
	for i := range wantSecrets {
		if h.api.secretDeletes[i] != wantSecrets[i] {
			t.Errorf("secret delete %d = %s, want %s", i, h.api.secretDeletes[i], wantSecrets[i])
		}
	}
	if len(h.api.secrets) != 0 {
		t.Errorf("secrets left behind: %v", h.api.secrets)
	}

	// no current pointer for a rolled-back deployment, lock released
	if _, err := h.store.GetCurrent("api.example.com", types.EnvStaging); !errdefs.IsNotFound(err) {
		t.Errorf("GetCurrent() error = %v, want not found", err)
	}
	if err := h.store.AcquireLock("api.example.com", types.EnvStaging, "other"); err != nil {
		t.Errorf("lock still held after rollback: %v", err)
	}

	stored, err := h.store.GetDeployment(result.DeploymentID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.DeploymentRolledBack {
		t.Errorf("stored status = %s, want rolled-back", stored.Status)
	}
}

// TestDeploySingleNoRollback tests the inspection mode
func TestDeploySingleNoRollback(t *testing.T) {
	h := newHarness(t)
	h.verifyErr = func(string) error { return errors.New("health probe failed") }

	opts := h.options()
	opts.NoRollback = true
	result := h.orch.DeploySingle(context.Background(), "api.example.com", opts)
	if result.Status != types.DeploymentFailed {
		t.Fatalf("status = %s, want failed without rollback", result.Status)
	}
	if len(h.api.secretDeletes) != 0 || len(h.api.recordDeletes) != 0 {
		t.Error("inverses ran despite NoRollback")
	}
	// the deployed state stays for inspection
	if len(h.api.records) != 1 || len(h.api.secrets) != 4 {
		t.Errorf("deployed state unwound: records=%d secrets=%d", len(h.api.records), len(h.api.secrets))
	}
}

// TestDeploySingleBlockedAssessment tests the pre-flight gate
func TestDeploySingleBlockedAssessment(t *testing.T) {
	h := newHarness(t)
	h.assessment.Gaps = []types.Gap{{
		Capability: types.CapDatabase,
		Priority:   types.PriorityBlocked,
		Deployable: false,
		Reason:     "token missing D1:Edit",
	}}

	result := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if result.Status == types.DeploymentSucceeded {
		t.Fatal("blocked assessment deployed")
	}
	if result.FailedPhase != types.PhaseValidate {
		t.Errorf("failed phase = %s, want validate", result.FailedPhase)
	}
	if result.Category != "validation" {
		t.Errorf("category = %s, want validation", result.Category)
	}
	if len(h.api.uploads) != 0 {
		t.Error("mutations ran despite blocked validation")
	}
}

// TestDeployDryRun tests that a dry run touches nothing remote
func TestDeployDryRun(t *testing.T) {
	h := newHarness(t)

	opts := h.options()
	opts.DryRun = true
	result := h.orch.DeploySingle(context.Background(), "api.example.com", opts)
	if result.Status != types.DeploymentSucceeded {
		t.Fatalf("status = %s (%s), want succeeded", result.Status, result.Error)
	}
	if len(h.api.uploads) != 0 || len(h.api.secretPuts) != 0 || len(h.api.records) != 0 {
		t.Error("dry run mutated the platform")
	}
	if len(h.runner.calls) != 0 {
		t.Errorf("dry run invoked wrangler: %v", h.runner.calls)
	}
	if kinds := actionKinds(t, h.store, result.DeploymentID); len(kinds) != 0 {
		t.Errorf("dry run registered rollback actions: %v", kinds)
	}
}

// TestPlanDeploymentBatches tests batch slicing
func TestPlanDeploymentBatches(t *testing.T) {
	h := newHarness(t)
	domains := []string{"a.com", "b.com", "c.com", "d.com", "e.com"}

	tests := []struct {
		parallelism int
		want        [][]string
	}{
		{2, [][]string{{"a.com", "b.com"}, {"c.com", "d.com"}, {"e.com"}}},
		{5, [][]string{domains}},
		{0, [][]string{{"a.com", "b.com", "c.com"}, {"d.com", "e.com"}}}, // default width
	}
	for _, tt := range tests {
		batches := h.orch.PlanDeployment(domains, Options{Parallelism: tt.parallelism})
		if len(batches) != len(tt.want) {
			t.Errorf("parallelism %d: %d batches, want %d", tt.parallelism, len(batches), len(tt.want))
			continue
		}
		for i := range tt.want {
			if len(batches[i]) != len(tt.want[i]) {
				t.Errorf("parallelism %d batch %d = %v, want %v", tt.parallelism, i, batches[i], tt.want[i])
			}
		}
	}
}

// TestDeployBatchBarrier tests that a failed batch aborts the rest
func TestDeployBatchBarrier(t *testing.T) {
	h := newHarness(t)
	h.verifyErr = func(domain string) error {
		if domain == "fail.example.com" {
			return errors.New("probe failed")
		}
		return nil
	}

	opts := h.options()
	opts.Parallelism = 2
	domains := []string{"fail.example.com", "ok.example.com", "later-a.example.com", "later-b.example.com"}

	result, err := h.orch.Deploy(context.Background(), "portfolio", domains, opts)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if result.Status != types.DeploymentFailed {
		t.Errorf("portfolio status = %s, want failed", result.Status)
	}
	if len(result.Results) != 4 {
		t.Fatalf("%d domain results, want 4", len(result.Results))
	}

	byDomain := map[string]*types.DomainResult{}
	for _, dr := range result.Results {
		byDomain[dr.Domain] = dr
	}
	if byDomain["ok.example.com"].Status != types.DeploymentSucceeded {
		t.Errorf("batch peer status = %s, want succeeded", byDomain["ok.example.com"].Status)
	}
	if byDomain["fail.example.com"].Status != types.DeploymentRolledBack {
		t.Errorf("failed domain status = %s, want rolled-back", byDomain["fail.example.com"].Status)
	}
	for _, domain := range []string{"later-a.example.com", "later-b.example.com"} {
		dr := byDomain[domain]
		if dr.Status != types.DeploymentFailed || dr.Category != "cancelled" {
			t.Errorf("%s = (%s, %s), want aborted as cancelled", domain, dr.Status, dr.Category)
		}
		if dr.DeploymentID != "" {
			t.Errorf("%s has a deployment id; its pipeline should never start", domain)
		}
	}
}

// TestDeployEmptyPortfolio tests the zero-domain run
func TestDeployEmptyPortfolio(t *testing.T) {
	h := newHarness(t)
	result, err := h.orch.Deploy(context.Background(), "portfolio", nil, h.options())
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if result.Status != types.DeploymentSucceeded || len(result.Results) != 0 {
		t.Errorf("result = %+v, want clean empty success", result)
	}
}

// TestRollbackByID tests the standalone rollback entry point
func TestRollbackByID(t *testing.T) {
	h := newHarness(t)
	h.verifyErr = func(string) error { return errors.New("probe failed") }

	opts := h.options()
	opts.NoRollback = true
	deployed := h.orch.DeploySingle(context.Background(), "api.example.com", opts)
	if deployed.Status != types.DeploymentFailed {
		t.Fatalf("setup status = %s", deployed.Status)
	}

	result, err := h.orch.Rollback(context.Background(), deployed.DeploymentID)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if result.Failed != 0 || result.Executed == 0 {
		t.Errorf("rollback result = %+v", result)
	}

	stored, err := h.store.GetDeployment(deployed.DeploymentID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.DeploymentRolledBack {
		t.Errorf("status after rollback = %s, want rolled-back", stored.Status)
	}

	// second rollback skips everything
	second, err := h.orch.Rollback(context.Background(), deployed.DeploymentID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Executed != 0 || second.Skipped == 0 {
		t.Errorf("second rollback = %+v, want all skipped", second)
	}
}

// TestRollbackRepointsCurrent tests that rolling back the newest
// deployment restores the current marker to the prior successful one
func TestRollbackRepointsCurrent(t *testing.T) {
	h := newHarness(t)

	first := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if first.Status != types.DeploymentSucceeded {
		t.Fatalf("first deploy status = %s (%s)", first.Status, first.Error)
	}
	second := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if second.Status != types.DeploymentSucceeded {
		t.Fatalf("second deploy status = %s (%s)", second.Status, second.Error)
	}
	if current, _ := h.store.GetCurrent("api.example.com", types.EnvStaging); current != second.DeploymentID {
		t.Fatalf("current before rollback = %s, want %s", current, second.DeploymentID)
	}

	if _, err := h.orch.Rollback(context.Background(), second.DeploymentID); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	current, err := h.store.GetCurrent("api.example.com", types.EnvStaging)
	if err != nil || current != first.DeploymentID {
		t.Errorf("current after rollback = (%q, %v), want the prior deployment %s", current, err, first.DeploymentID)
	}
	stored, err := h.store.GetDeployment(second.DeploymentID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.DeploymentRolledBack {
		t.Errorf("rolled-back deployment status = %s, want rolled-back", stored.Status)
	}
}

// TestRollbackToVersion tests restoring a named past deployment
func TestRollbackToVersion(t *testing.T) {
	h := newHarness(t)

	first := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	second := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if first.Status != types.DeploymentSucceeded || second.Status != types.DeploymentSucceeded {
		t.Fatalf("setup statuses = %s, %s", first.Status, second.Status)
	}

	result, err := h.orch.RollbackTo(context.Background(), first.DeploymentID)
	if err != nil {
		t.Fatalf("RollbackTo() error = %v", err)
	}
	if result.Failed != 0 || result.Executed == 0 {
		t.Errorf("rollback result = %+v", result)
	}

	current, err := h.store.GetCurrent("api.example.com", types.EnvStaging)
	if err != nil || current != first.DeploymentID {
		t.Errorf("current = (%q, %v), want the restored deployment %s", current, err, first.DeploymentID)
	}
	stored, err := h.store.GetDeployment(second.DeploymentID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.DeploymentRolledBack {
		t.Errorf("displaced deployment status = %s, want rolled-back", stored.Status)
	}
}

// TestRollbackToVersionRejectsBadTargets tests the validation gates
func TestRollbackToVersionRejectsBadTargets(t *testing.T) {
	h := newHarness(t)

	deployed := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if deployed.Status != types.DeploymentSucceeded {
		t.Fatalf("setup status = %s", deployed.Status)
	}

	// the current deployment is not a restore target
	if _, err := h.orch.RollbackTo(context.Background(), deployed.DeploymentID); !errdefs.IsValidation(err) {
		t.Errorf("RollbackTo(current) error = %v, want validation", err)
	}

	// a failed deployment cannot be restored
	h.verifyErr = func(string) error { return errors.New("probe failed") }
	failed := h.orch.DeploySingle(context.Background(), "api.example.com", h.options())
	if failed.Status != types.DeploymentRolledBack {
		t.Fatalf("failed deploy status = %s", failed.Status)
	}
	if _, err := h.orch.RollbackTo(context.Background(), failed.DeploymentID); !errdefs.IsValidation(err) {
		t.Errorf("RollbackTo(rolled-back) error = %v, want validation", err)
	}

	if _, err := h.orch.RollbackTo(context.Background(), "deploy-nope"); !errdefs.IsNotFound(err) {
		t.Errorf("RollbackTo(unknown) error = %v, want not found", err)
	}
}

// TestDeployHonorsSharedDryRun tests that the shared run intent forces
// every pipeline into rehearsal mode
func TestDeployHonorsSharedDryRun(t *testing.T) {
	h := newHarness(t)
	if err := h.coord.Share(coordinator.KeyDryRun, "orchestrator", true); err != nil {
		t.Fatal(err)
	}

	opts := h.options() // DryRun deliberately false
	result := h.orch.DeploySingle(context.Background(), "api.example.com", opts)
	if result.Status != types.DeploymentSucceeded {
		t.Fatalf("status = %s (%s), want succeeded", result.Status, result.Error)
	}
	if len(h.api.uploads) != 0 || len(h.api.secretPuts) != 0 || len(h.api.records) != 0 {
		t.Error("shared dry-run intent ignored, platform mutated")
	}
	if len(h.runner.calls) != 0 {
		t.Errorf("shared dry-run intent ignored, wrangler invoked: %v", h.runner.calls)
	}
}

// TestDeployReleasesDryRunIntent tests that a portfolio run cleans up its
// shared intent so the next run can claim the key
func TestDeployReleasesDryRunIntent(t *testing.T) {
	h := newHarness(t)

	opts := h.options()
	opts.DryRun = true
	if _, err := h.orch.Deploy(context.Background(), "portfolio", []string{"a.example.com"}, opts); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if _, ok := h.coord.Get(coordinator.KeyDryRun); ok {
		t.Error("dry-run intent still shared after the run")
	}
	// a follow-up live run can claim the key
	if err := h.coord.Share(coordinator.KeyDryRun, "other-run", false); err != nil {
		t.Errorf("key not reclaimable after release: %v", err)
	}
}

// TestRollbackUnknownDeployment tests the not-found path
func TestRollbackUnknownDeployment(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.Rollback(context.Background(), "deploy-nope"); !errdefs.IsNotFound(err) {
		t.Errorf("Rollback(unknown) error = %v, want not found", err)
	}
}
