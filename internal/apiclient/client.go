// Package apiclient provides the HTTP client the CLI uses to talk to a
// running browsercx daemon.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pkt.systems/browsercx/schema"
)

// Client sends command requests to the daemon's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a client for the daemon at baseURL authenticating with token.
// The HTTP client timeout is generous because command timeouts are enforced
// server-side; the transport deadline only guards against a hung daemon.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: schema.MaxCommandTimeout + 30*time.Second,
		},
	}
}

// Command posts a single command to the daemon and returns the data payload.
// Structured failures from the daemon are returned as *schema.StructuredError.
func (c *Client) Command(ctx context.Context, req schema.CommandRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/command", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var out struct {
		OK    bool                    `json:"ok"`
		Data  json.RawMessage         `json:"data,omitempty"`
		Error *schema.StructuredError `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("daemon returned status %d with unparseable body", resp.StatusCode)
	}
	if !out.OK {
		if out.Error != nil {
			return nil, out.Error
		}
		return nil, fmt.Errorf("daemon returned status %d without error detail", resp.StatusCode)
	}
	return out.Data, nil
}

// Health reports whether the daemon answers on /health.
func (c *Client) Health(ctx context.Context) (schema.HealthResponse, error) {
	var health schema.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return health, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return health, fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, err
	}
	return health, nil
}
