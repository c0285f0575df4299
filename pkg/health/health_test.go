package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestHTTPCheckerPass tests the plain 2xx probe
func TestHTTPCheckerPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := NewHTTPChecker(srv.URL).Check(context.Background())
	if !result.Healthy {
		t.Errorf("Check() unhealthy: %s", result.Message)
	}
	if result.Endpoint != srv.URL {
		t.Errorf("Endpoint = %q, want %q", result.Endpoint, srv.URL)
	}
}

// TestHTTPCheckerStatusCodes tests the 2xx boundary
func TestHTTPCheckerStatusCodes(t *testing.T) {
	tests := []struct {
		status  int
		healthy bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusMovedPermanently, false},
		{http.StatusInternalServerError, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		result := NewHTTPChecker(srv.URL).Check(context.Background())
		srv.Close()
		if result.Healthy != tt.healthy {
			t.Errorf("status %d: Healthy = %v, want %v (%s)", tt.status, result.Healthy, tt.healthy, result.Message)
		}
	}
}

// TestHTTPCheckerOKBody tests the JSON status field requirement
func TestHTTPCheckerOKBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		healthy bool
	}{
		{"ok", `{"status":"ok"}`, true},
		{"healthy", `{"status":"healthy"}`, true},
		{"degraded", `{"status":"degraded"}`, false},
		{"no status field", `{"version":"1.0"}`, true},
		{"non-json", "pong", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			result := NewHTTPChecker(srv.URL).WithOKBody().Check(context.Background())
			if result.Healthy != tt.healthy {
				t.Errorf("Healthy = %v, want %v (%s)", result.Healthy, tt.healthy, result.Message)
			}
		})
	}
}

// TestHTTPCheckerBudget tests that a slow 2xx answer breaches the budget
func TestHTTPCheckerBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := NewHTTPChecker(srv.URL).WithBudget(10 * time.Millisecond).Check(context.Background())
	if result.Healthy {
		t.Error("slow answer passed the budget check")
	}
	if !strings.Contains(result.Message, "exceeds budget") {
		t.Errorf("Message = %q, want budget breach", result.Message)
	}
}

// TestProbeWithRetries tests recovery within the retry allowance
func TestProbeWithRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{Retries: 3, RetryInterval: 5 * time.Millisecond}
	if err := probeWithRetries(context.Background(), NewHTTPChecker(srv.URL), cfg); err != nil {
		t.Errorf("probeWithRetries() error = %v, want recovery on third attempt", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("probe count = %d, want 3", got)
	}
}

// TestProbeWithRetriesExhausted tests the failure after all attempts
func TestProbeWithRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := Config{Retries: 2, RetryInterval: time.Millisecond}
	err := probeWithRetries(context.Background(), NewHTTPChecker(srv.URL), cfg)
	if err == nil {
		t.Fatal("probeWithRetries() succeeded against a failing endpoint")
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Errorf("error = %v, want attempt count", err)
	}
}

// TestStatusUpdate tests the consecutive-failure threshold
func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 3}
	status := NewStatus()

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	pass := Result{Healthy: true, CheckedAt: time.Now()}

	status.Update(fail, cfg)
	status.Update(fail, cfg)
	if !status.Healthy {
		t.Error("two failures flipped health before the threshold")
	}
	status.Update(fail, cfg)
	if status.Healthy {
		t.Error("three failures did not flip health")
	}

	status.Update(pass, cfg)
	if !status.Healthy || status.ConsecutiveFailures != 0 {
		t.Errorf("recovery not recorded: healthy=%v failures=%d", status.Healthy, status.ConsecutiveFailures)
	}
}

// fakeSuite is a registrable sub-tester with canned results
type fakeSuite struct {
	name   string
	checks []Check
}

func (f *fakeSuite) Name() string { return f.name }

func (f *fakeSuite) Run(ctx context.Context, target Target) SuiteResult {
	result := SuiteResult{Suite: f.name}
	for _, c := range f.checks {
		result.add(c)
	}
	return result
}

// TestProductionTesterRun tests suite selection, totals, and report files
func TestProductionTesterRun(t *testing.T) {
	dir := t.TempDir()
	pt := NewProductionTester(dir)
	pt.Register("fake", func() SubTester {
		return &fakeSuite{name: "fake", checks: []Check{
			{Name: "one", Passed: true},
			{Name: "two", Passed: false, Message: "boom"},
		}}
	})

	report, err := pt.Run(context.Background(), Target{Domain: "api.example.com"}, "fake")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TotalPassed != 1 || report.TotalFailed != 1 {
		t.Errorf("totals = (%d, %d), want (1, 1)", report.TotalPassed, report.TotalFailed)
	}
	if len(report.Suites) != 1 || report.Suites[0].Suite != "fake" {
		t.Errorf("Suites = %+v, want one fake suite", report.Suites)
	}
	if report.Budgets == (Budgets{}) {
		t.Error("empty budgets not defaulted")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var json, metrics bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "test-report-") && filepath.Ext(e.Name()) == ".json" {
			json = true
		}
		if strings.HasPrefix(e.Name(), "test-metrics-") {
			metrics = true
		}
	}
	if !json || !metrics {
		t.Errorf("report files missing: json=%v metrics=%v", json, metrics)
	}
}

// TestProductionTesterBuiltinSuites tests the registered suite roster
func TestProductionTesterBuiltinSuites(t *testing.T) {
	pt := NewProductionTester("")
	got := pt.Suites()
	want := []string{"api", "auth", "db", "load", "performance"}
	if len(got) != len(want) {
		t.Fatalf("Suites() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Suites()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// TestAuthTesterAcceptsProtectedRoute tests that an unauthenticated 401
// counts as a wired auth flow
func TestAuthTesterAcceptsProtectedRoute(t *testing.T) {
	probe := Result{
		Healthy:  false,
		Message:  "HTTP 401 Unauthorized",
		Duration: 5 * time.Millisecond,
	}
	result := authResult(probe, DefaultBudgets())
	if result.Failed != 0 {
		t.Errorf("401 probe failed the suite: %+v", result.Checks)
	}
}

// TestAuthTesterBudgetBreach tests the auth-flow budget on a slow answer
func TestAuthTesterBudgetBreach(t *testing.T) {
	budgets := DefaultBudgets()
	probe := Result{
		Healthy:  false,
		Message:  "HTTP 405 Method Not Allowed",
		Duration: budgets.AuthFlow + time.Second,
	}
	result := authResult(probe, budgets)
	if result.Failed != 1 {
		t.Errorf("slow auth answer passed the budget: %+v", result.Checks)
	}
}

// TestProductionTesterUnknownSuite tests the unknown suite error
func TestProductionTesterUnknownSuite(t *testing.T) {
	pt := NewProductionTester("")
	if _, err := pt.Run(context.Background(), Target{Domain: "a.com"}, "bogus"); err == nil {
		t.Error("Run(bogus) succeeded, want error")
	}
}
