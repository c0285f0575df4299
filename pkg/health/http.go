package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clodo/orchestrate/pkg/metrics"
)

// HTTPChecker probes one HTTP endpoint
type HTTPChecker struct {
	// URL is the full endpoint URL (e.g. "https://api.example.com/health")
	URL string

	// Method is the HTTP method (default GET)
	Method string

	// Headers are custom headers for the probe request
	Headers map[string]string

	// RequireOKBody additionally requires a JSON body whose "status" field
	// is "ok" or "healthy" when the response is JSON
	RequireOKBody bool

	// ResponseTimeBudget fails a 2xx answer that took longer; zero
	// disables the budget
	ResponseTimeBudget time.Duration

	// Client is the HTTP client (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates an HTTP probe with defaults
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:     url,
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithBudget sets the response-time budget
func (h *HTTPChecker) WithBudget(budget time.Duration) *HTTPChecker {
	h.ResponseTimeBudget = budget
	return h
}

// WithOKBody requires an ok/healthy JSON status field
func (h *HTTPChecker) WithOKBody() *HTTPChecker {
	h.RequireOKBody = true
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// Check performs the probe. Success is a 2xx status within the budget,
// plus an ok body status when required.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return h.fail(start, fmt.Sprintf("failed to create request: %v", err))
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return h.fail(start, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return h.fail(start, fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	if h.ResponseTimeBudget > 0 && elapsed > h.ResponseTimeBudget {
		return h.fail(start, fmt.Sprintf("HTTP %d but %v exceeds budget %v", resp.StatusCode, elapsed.Round(time.Millisecond), h.ResponseTimeBudget))
	}

	if h.RequireOKBody {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return h.fail(start, fmt.Sprintf("failed to read body: %v", err))
		}
		if !okBody(body) {
			return h.fail(start, "body status is not ok")
		}
	}

	metrics.HealthProbesTotal.WithLabelValues("pass").Inc()
	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("HTTP %d in %v", resp.StatusCode, elapsed.Round(time.Millisecond)),
		Endpoint:  h.URL,
		CheckedAt: start,
		Duration:  elapsed,
	}
}

func (h *HTTPChecker) fail(start time.Time, msg string) Result {
	metrics.HealthProbesTotal.WithLabelValues("fail").Inc()
	return Result{
		Healthy:   false,
		Message:   msg,
		Endpoint:  h.URL,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func okBody(body []byte) bool {
	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Non-JSON bodies pass; the status requirement applies only
		// where the service speaks JSON.
		return true
	}
	status := strings.ToLower(parsed.Status)
	return status == "ok" || status == "healthy" || status == ""
}
