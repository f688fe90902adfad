package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/pagegeneral/internal/config"
)

// apiClient talks to a running `pagegeneral serve`. Only ingestion is queued
// remotely; every read command opens the stores directly.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// ingestRequest mirrors the body of POST /ingest.
type ingestRequest struct {
	Path  string `json:"path"`
	Title string `json:"title,omitempty"`
	Force bool   `json:"force"`
}

// queuedJobs is the reply to POST /ingest: one job per file.
type queuedJobs struct {
	Jobs   []string `json:"jobs"`
	Status string   `json:"status"`
}

// queueIngest asks the server to ingest a file or directory in the
// background. The path is resolved on the server's filesystem.
func (c *apiClient) queueIngest(ctx context.Context, r ingestRequest) (queuedJobs, error) {
	var out queuedJobs
	resp, err := c.do(ctx, http.MethodPost, "/ingest", r)
	if err != nil {
		return out, err
	}
	return out, decodeJSON(resp, &out)
}

// job returns the stored state of one queued ingest job as the server
// reports it.
func (c *apiClient) job(ctx context.Context, id string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	return out, decodeJSON(resp, &out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is `pagegeneral serve` running? (%w)", err)
	}
	return resp, nil
}

// decodeJSON decodes a success body into v. Error replies carry
// {"error":{"message","type"}}; the message is surfaced with the status code.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		return json.NewDecoder(resp.Body).Decode(v)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
