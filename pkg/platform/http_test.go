package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/types"
)

// fastLimits keeps backoff delays in the millisecond range for tests
func fastLimits() map[types.APIClass]ClassLimit {
	limits := map[types.APIClass]ClassLimit{}
	for class, limit := range DefaultLimits() {
		limit.BaseDelay = time.Millisecond
		limit.MaxDelay = 5 * time.Millisecond
		limit.MinSpacing = 0
		limits[class] = limit
	}
	return limits
}

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{
		BaseURL:     url,
		Token:       "test-token",
		AccountID:   "acct-1",
		MaxAttempts: 3,
		Limiter:     NewRateLimiter(fastLimits()),
	})
}

func writeEnvelope(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"errors":  []any{},
		"result":  json.RawMessage(raw),
	})
}

// TestVerifyToken tests permission extraction from the verify envelope
func TestVerifyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/tokens/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		writeEnvelope(w, map[string]any{
			"id":     "tok-1",
			"status": "active",
			"policies": []map[string]any{
				{"permission_groups": []map[string]string{
					{"name": "Workers Scripts:Edit"},
					{"name": "D1:Edit"},
				}},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	verification, err := client.VerifyToken(context.Background())
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if !verification.Valid {
		t.Errorf("Valid = false, want true")
	}
	if len(verification.Permissions) != 2 || verification.Permissions[1] != "D1:Edit" {
		t.Errorf("Permissions = %v, want [Workers Scripts:Edit D1:Edit]", verification.Permissions)
	}
}

// TestVerifyTokenInvalid tests that upstream failures report, not throw
func TestVerifyTokenInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors":  []map[string]any{{"code": 10000, "message": "Invalid API Token"}},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	verification, err := client.VerifyToken(context.Background())
	if err != nil {
		t.Fatalf("VerifyToken() error = %v, want nil with Valid=false", err)
	}
	if verification.Valid {
		t.Error("Valid = true for rejected token")
	}
	if verification.Error == "" {
		t.Error("Error is empty, want the upstream message")
	}
}

// TestRetryOnRateLimit tests that 429 responses retry until success
func TestRetryOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"errors":[{"code":10013,"message":"rate limited"}]}`))
			return
		}
		writeEnvelope(w, []map[string]string{{"uuid": "db-1", "name": "api-example-com-staging"}})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	dbs, err := client.ListDatabases(context.Background())
	if err != nil {
		t.Fatalf("ListDatabases() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("upstream called %d times, want 3", got)
	}
	if len(dbs) != 1 || dbs[0].Name != "api-example-com-staging" {
		t.Errorf("ListDatabases() = %+v", dbs)
	}
}

// TestRetryBudgetExhausted tests the quota error after MaxAttempts
func TestRetryBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.ListDatabases(context.Background())
	if !errdefs.IsQuota(err) {
		t.Errorf("error after exhausted retries = %v, want quota", err)
	}
}

// TestErrorCategories tests HTTP status to category mapping
func TestErrorCategories(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
		want   string
	}{
		{"forbidden", http.StatusForbidden, errdefs.IsPermission, "permission"},
		{"unauthorized", http.StatusUnauthorized, errdefs.IsPermission, "permission"},
		{"not found", http.StatusNotFound, errdefs.IsNotFound, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{"success": false, "errors": []map[string]any{{"message": "nope"}}})
			}))
			defer srv.Close()

			client := newTestClient(srv.URL)
			_, err := client.GetWorker(context.Background(), "w")
			if !tt.check(err) {
				t.Errorf("error = %v, want %s", err, tt.want)
			}
		})
	}
}

// TestVerifyZoneOwnership tests suffix matching against active zones
func TestVerifyZoneOwnership(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, []map[string]string{
			{"id": "z1", "name": "example.com", "status": "active"},
			{"id": "z2", "name": "pending.dev", "status": "pending"},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"api.example.com", true},
		{"example.org", false},
		{"notexample.com", false},
		{"pending.dev", false}, // inactive zones never count
	}
	for _, tt := range tests {
		owned, err := client.VerifyZoneOwnership(context.Background(), tt.domain)
		if err != nil {
			t.Fatalf("VerifyZoneOwnership(%s) error = %v", tt.domain, err)
		}
		if owned != tt.want {
			t.Errorf("VerifyZoneOwnership(%s) = %v, want %v", tt.domain, owned, tt.want)
		}
	}
}
