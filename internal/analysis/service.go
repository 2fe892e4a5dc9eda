package analysis

import (
	"context"
	"encoding/json"
	"fmt"
)

// Health is the remote service's readiness report.
type Health struct {
	Status   string          `json:"status"`
	Services map[string]bool `json:"services,omitempty"`
}

// Healthy reports whether the service and every subsystem it lists are up.
func (h Health) Healthy() bool {
	if h.Status != "healthy" && h.Status != "ok" {
		return false
	}
	for _, up := range h.Services {
		if !up {
			return false
		}
	}
	return true
}

// Ping wakes the remote service. Used after a session reset to re-prime
// a server that may have idled out.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.request(ctx, "POST", "/server/ping", nil); err != nil {
		return fmt.Errorf("ping analysis service: %w", err)
	}
	return nil
}

// ClearCache drops the remote result cache and reports how many entries
// were evicted.
func (c *Client) ClearCache(ctx context.Context) (int, error) {
	payload, err := c.request(ctx, "POST", "/cache/clear", nil)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	var resp struct {
		Cleared int `json:"cleared"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return 0, fmt.Errorf("decode cache response: %w", err)
	}
	return resp.Cleared, nil
}

// ServiceHealth fetches the readiness report.
func (c *Client) ServiceHealth(ctx context.Context) (Health, error) {
	payload, err := c.request(ctx, "GET", "/health", nil)
	if err != nil {
		return Health{}, fmt.Errorf("fetch health: %w", err)
	}
	var h Health
	if err := json.Unmarshal(payload, &h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}
