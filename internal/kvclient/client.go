// Package kvclient is a minimal client for one node: Ping to probe
// liveness, then any RPC. It does not choose among several nodes and does
// not retry after a disconnect. It exists to give the test suite something to
// dial against a running node; a full CLI client is out of scope (see
// SPEC_FULL.md §4.3) and is not built here.
//
// Grounded on ppriyankuu-godkv's internal/client/client.go, pared down to
// the RPCs SPEC_FULL.md §1 actually defines and stripped of the vector
// clock and cluster-membership calls that belonged to the teacher's own
// quorum design.
package kvclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to exactly one node; it does not itself fan out to peers or
// retry across the cluster — that's the node's own replication manager's
// job, not the client's.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for baseURL (e.g. "http://localhost:50051"). A zero
// timeout defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ErrNotFound is returned by Get when the server replies 404.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and message body from a non-2xx reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Ping checks that the node is reachable and answering — the probe the
// minimal client contract uses to pick a live node.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Put stores key=value and returns the value that was previously stored,
// or "" if the key was absent.
func (c *Client) Put(ctx context.Context, key, value string) (string, error) {
	body, _ := json.Marshal(map[string]string{"value": value})
	resp, err := c.do(ctx, http.MethodPut, "/kv/"+key, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var out struct {
		OldValue string `json:"old_value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.OldValue, nil
}

// Get returns the value stored at key, or ErrNotFound if the server
// replies 404.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/kv/"+key, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// Delete removes key. Deleting an absent key is not an error (P3).
func (c *Client) Delete(ctx context.Context, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/kv/"+key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ListKeys returns every key currently stored, in the server's reported
// order.
func (c *Client) ListKeys(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/keys", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// Backup triggers a hot snapshot to dir (or the node's configured default
// if dir is empty).
func (c *Client) Backup(ctx context.Context, dir string) error {
	var body []byte
	if dir != "" {
		body, _ = json.Marshal(map[string]string{"dir": dir})
	}
	resp, err := c.do(ctx, http.MethodPost, "/backup", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("backup failed: %s", out.Message)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(b, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(b)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
