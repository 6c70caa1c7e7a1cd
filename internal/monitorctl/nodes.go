package monitorctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

func ListStats(ctx context.Context, client *HTTPClient) ([]shared.NodeStats, error) {
	body, err := client.Get(ctx, "/api/v1/stats")
	if err != nil {
		return nil, err
	}

	var stats []shared.NodeStats
	if err := ParseResponse(body, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func GetStats(ctx context.Context, client *HTTPClient, id string) (*shared.NodeStats, error) {
	if id == "" {
		return nil, fmt.Errorf("node id is required")
	}

	body, err := client.Get(ctx, "/api/v1/stats/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var stats shared.NodeStats
	if err := ParseResponse(body, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func ListNodes(ctx context.Context, client *HTTPClient) ([]shared.Node, error) {
	body, err := client.Get(ctx, "/api/v1/nodes")
	if err != nil {
		return nil, err
	}

	var nodes []shared.Node
	if err := ParseResponse(body, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func DeleteNode(ctx context.Context, client *HTTPClient, id string) error {
	if id == "" {
		return fmt.Errorf("node id is required")
	}
	_, err := client.Delete(ctx, "/api/v1/nodes/"+url.PathEscape(id))
	return err
}

// Readiness is the body of /readyz.
type Readiness struct {
	Status     string `json:"status"`
	Components map[string]struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	} `json:"components"`
}

// GetReadiness returns the readiness report. A 503 still yields the decoded
// report so callers can show which component is failing.
func GetReadiness(ctx context.Context, client *HTTPClient) (*Readiness, error) {
	req, err := newRequest(ctx, client, "/readyz")
	if err != nil {
		return nil, err
	}
	resp, err := client.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node monitor at %s: %w", client.baseURL, err)
	}
	defer resp.Body.Close()

	var r Readiness
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to parse readiness (status %d): %w", resp.StatusCode, err)
	}
	return &r, nil
}
