package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/metrics"
	"github.com/clodo/orchestrate/pkg/types"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// ClientConfig configures the HTTP platform client
type ClientConfig struct {
	BaseURL     string
	Token       string
	AccountID   string
	MaxAttempts int
	HTTPClient  *http.Client
	Limiter     *RateLimiter
}

// Client is the rate-limited HTTP implementation of API. Every request
// consults the rate limiter before dispatch; quota and transient failures
// are retried with exponential backoff up to MaxAttempts.
type Client struct {
	baseURL     string
	token       string
	accountID   string
	maxAttempts int
	http        *http.Client
	limiter     *RateLimiter
}

// NewClient creates a platform client. A nil Limiter gets DefaultLimits;
// MaxAttempts defaults to 5.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(DefaultLimits())
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		accountID:   cfg.AccountID,
		maxAttempts: cfg.MaxAttempts,
		http:        cfg.HTTPClient,
		limiter:     cfg.Limiter,
	}
}

// Limiter exposes the shared rate limiter so the coordinator can hand the
// same instance to every pipeline of a run.
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// envelope is the standard platform API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// do issues one rate-limited request with retry on quota and transient
// failures. Non-quota API errors propagate immediately.
func (c *Client) do(ctx context.Context, class types.APIClass, priority types.Priority, method, path string, body any, out any) error {
	logger := log.WithComponent("platform")

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.limiter.Backoff(class, attempt-1)
			logger.Debug().
				Str("class", string(class)).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("backing off before retry")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.limiter.Acquire(ctx, class, priority); err != nil {
			return err
		}

		start := time.Now()
		status, respBody, err := c.send(ctx, method, path, payload)
		metrics.APICallDuration.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.APICallsTotal.WithLabelValues(string(class), "network-error").Inc()
			lastErr = errdefs.Transient("%s %s: %v", method, path, err)
			continue
		}
		metrics.APICallsTotal.WithLabelValues(string(class), fmt.Sprint(status)).Inc()

		if status == http.StatusTooManyRequests || rateLimitedBody(respBody) {
			lastErr = errdefs.Quota("%s %s: rate limited (attempt %d)", method, path, attempt+1)
			continue
		}

		return decodeResponse(status, respBody, method, path, out)
	}

	if errdefs.IsQuota(lastErr) {
		return errdefs.Quota("%s: retry budget exhausted after %d attempts: %v", class, c.maxAttempts, lastErr)
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// rateLimitedBody catches upstream variants that report quota exhaustion
// with a 200-level envelope or a textual error.
func rateLimitedBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests")
}

func decodeResponse(status int, body []byte, method, path string, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 200 && status < 300 {
			return nil
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, status)
	}

	if !env.Success || status < 200 || status >= 300 {
		msg := fmt.Sprintf("HTTP %d", status)
		if len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errdefs.Permission("%s %s: %s", method, path, msg)
		case http.StatusNotFound:
			return errdefs.NotFound("%s %s: %s", method, path, msg)
		default:
			return fmt.Errorf("%s %s: %s", method, path, msg)
		}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("%s %s: failed to decode result: %w", method, path, err)
		}
	}
	return nil
}

// Token and account operations

type tokenVerifyResult struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Policies []struct {
		PermissionGroups []struct {
			Name string `json:"name"`
		} `json:"permission_groups"`
	} `json:"policies"`
}

func (c *Client) VerifyToken(ctx context.Context) (*types.TokenVerification, error) {
	var result tokenVerifyResult
	err := c.do(ctx, types.ClassGeneral, types.PriorityHighReq, http.MethodGet, "/user/tokens/verify", nil, &result)
	if err != nil {
		// Verification failures are reported, not thrown: the assessment
		// engine degrades confidence instead of aborting.
		return &types.TokenVerification{
			Valid:     false,
			Error:     err.Error(),
			CheckedAt: time.Now().UTC(),
		}, nil
	}

	verification := &types.TokenVerification{
		Valid:     result.Status == "active",
		AccountID: c.accountID,
		CheckedAt: time.Now().UTC(),
	}
	for _, policy := range result.Policies {
		for _, group := range policy.PermissionGroups {
			verification.Permissions = append(verification.Permissions, group.Name)
		}
	}
	if !verification.Valid {
		verification.Error = "token status: " + result.Status
	}
	return verification, nil
}

func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var account Account
	path := "/accounts/" + url.PathEscape(c.accountID)
	if err := c.do(ctx, types.ClassGeneral, types.PriorityNormalReq, http.MethodGet, path, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Worker operations

func (c *Client) UploadWorker(ctx context.Context, script *WorkerScript) error {
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s", url.PathEscape(c.accountID), url.PathEscape(script.Name))
	body := map[string]any{
		"script":   string(script.Content),
		"revision": script.Revision,
		"bindings": script.Bindings,
	}
	return c.do(ctx, types.ClassWorkers, types.PriorityNormalReq, http.MethodPut, path, body, nil)
}

func (c *Client) GetWorker(ctx context.Context, name string) (*WorkerScript, error) {
	var script WorkerScript
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s", url.PathEscape(c.accountID), url.PathEscape(name))
	if err := c.do(ctx, types.ClassWorkers, types.PriorityNormalReq, http.MethodGet, path, nil, &script); err != nil {
		return nil, err
	}
	script.Name = name
	return &script, nil
}

func (c *Client) DeleteWorker(ctx context.Context, name string) error {
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s", url.PathEscape(c.accountID), url.PathEscape(name))
	return c.do(ctx, types.ClassWorkers, types.PriorityNormalReq, http.MethodDelete, path, nil, nil)
}

func (c *Client) PutWorkerSecret(ctx context.Context, script, name, value string) error {
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s/secrets", url.PathEscape(c.accountID), url.PathEscape(script))
	body := map[string]string{"name": name, "text": value, "type": "secret_text"}
	return c.do(ctx, types.ClassWorkers, types.PriorityNormalReq, http.MethodPut, path, body, nil)
}

func (c *Client) DeleteWorkerSecret(ctx context.Context, script, name string) error {
	path := fmt.Sprintf("/accounts/%s/workers/scripts/%s/secrets/%s",
		url.PathEscape(c.accountID), url.PathEscape(script), url.PathEscape(name))
	return c.do(ctx, types.ClassWorkers, types.PriorityNormalReq, http.MethodDelete, path, nil, nil)
}

// D1 database operations

func (c *Client) CreateDatabase(ctx context.Context, name string) (*D1Database, error) {
	var db D1Database
	path := fmt.Sprintf("/accounts/%s/d1/database", url.PathEscape(c.accountID))
	body := map[string]string{"name": name}
	if err := c.do(ctx, types.ClassD1, types.PriorityNormalReq, http.MethodPost, path, body, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

func (c *Client) ListDatabases(ctx context.Context) ([]*D1Database, error) {
	var dbs []*D1Database
	path := fmt.Sprintf("/accounts/%s/d1/database", url.PathEscape(c.accountID))
	if err := c.do(ctx, types.ClassD1, types.PriorityNormalReq, http.MethodGet, path, nil, &dbs); err != nil {
		return nil, err
	}
	return dbs, nil
}

func (c *Client) DeleteDatabase(ctx context.Context, id string) error {
	path := fmt.Sprintf("/accounts/%s/d1/database/%s", url.PathEscape(c.accountID), url.PathEscape(id))
	return c.do(ctx, types.ClassD1, types.PriorityNormalReq, http.MethodDelete, path, nil, nil)
}

func (c *Client) QueryDatabase(ctx context.Context, id, sql string) (*D1Result, error) {
	var results []D1Result
	path := fmt.Sprintf("/accounts/%s/d1/database/%s/query", url.PathEscape(c.accountID), url.PathEscape(id))
	body := map[string]string{"sql": sql}
	if err := c.do(ctx, types.ClassD1, types.PriorityNormalReq, http.MethodPost, path, body, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &D1Result{Success: true}, nil
	}
	return &results[0], nil
}

// Zone and DNS operations

func (c *Client) ListZones(ctx context.Context) ([]*Zone, error) {
	var zones []*Zone
	if err := c.do(ctx, types.ClassGeneral, types.PriorityNormalReq, http.MethodGet, "/zones", nil, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// VerifyZoneOwnership reports whether domain (or a parent zone of it)
// belongs to the account and is active.
func (c *Client) VerifyZoneOwnership(ctx context.Context, domain string) (bool, error) {
	zones, err := c.ListZones(ctx)
	if err != nil {
		return false, err
	}
	for _, zone := range zones {
		if zone.Status != "active" {
			continue
		}
		if domain == zone.Name || strings.HasSuffix(domain, "."+zone.Name) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) zoneIDFor(ctx context.Context, domain string) (string, error) {
	zones, err := c.ListZones(ctx)
	if err != nil {
		return "", err
	}
	best := ""
	bestLen := 0
	for _, zone := range zones {
		if (domain == zone.Name || strings.HasSuffix(domain, "."+zone.Name)) && len(zone.Name) > bestLen {
			best = zone.ID
			bestLen = len(zone.Name)
		}
	}
	if best == "" {
		return "", errdefs.NotFound("zone for domain: %s", domain)
	}
	return best, nil
}

func (c *Client) ListDNSRecords(ctx context.Context, domain string) ([]*DNSRecord, error) {
	zoneID, err := c.zoneIDFor(ctx, domain)
	if err != nil {
		return nil, err
	}
	var records []*DNSRecord
	path := fmt.Sprintf("/zones/%s/dns_records?name=%s", url.PathEscape(zoneID), url.QueryEscape(domain))
	if err := c.do(ctx, types.ClassGeneral, types.PriorityNormalReq, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) CreateDNSRecord(ctx context.Context, domain string, record *DNSRecord) (*DNSRecord, error) {
	zoneID, err := c.zoneIDFor(ctx, domain)
	if err != nil {
		return nil, err
	}
	var created DNSRecord
	path := fmt.Sprintf("/zones/%s/dns_records", url.PathEscape(zoneID))
	if err := c.do(ctx, types.ClassGeneral, types.PriorityNormalReq, http.MethodPost, path, record, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) DeleteDNSRecord(ctx context.Context, domain, recordID string) error {
	zoneID, err := c.zoneIDFor(ctx, domain)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/zones/%s/dns_records/%s", url.PathEscape(zoneID), url.PathEscape(recordID))
	return c.do(ctx, types.ClassGeneral, types.PriorityNormalReq, http.MethodDelete, path, nil, nil)
}
