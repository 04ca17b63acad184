// Package client provides a Go SDK for talking to one distributed
// object storage node's public surface: GET/PUT/DELETE/HEAD on objects,
// plus operator-facing compaction-status and watchdog-alarm calls.
// Adapted from the teacher's internal/client (same baseURL/httpClient/
// checkStatus shape), generalized from the single-string KV value to
// the object/address_id model this spec uses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"distributed-objectstore/internal/objectmodel"
)

// Client talks to one node. That node is responsible for coordinating
// replication and talking to its peers; this client has no distributed
// logic of its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client bound to baseURL (e.g. "http://localhost:8080").
// A zero timeout defaults to 10s — never call the network without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// PutResult is returned after a successful write.
type PutResult struct {
	Etag uint64 `json:"etag"`
}

// GetResult carries the object body plus its checksum/ETag.
type GetResult struct {
	Data []byte
	Etag uint64
}

// objectPath builds the /objects/:addr/*key path for addr/key.
func objectPath(addr uint32, key string) string {
	return fmt.Sprintf("/objects/%d/%s", addr, url.PathEscape(key))
}

// Put stores data at (addr, key).
func (c *Client) Put(ctx context.Context, addr uint32, key string, data []byte, reqID uint64) (*PutResult, error) {
	u := fmt.Sprintf("%s%s?req_id=%d", c.baseURL, objectPath(addr, key), reqID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result PutResult
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Get retrieves the object at (addr, key). A 404 is converted to
// ErrNotFound.
func (c *Client) Get(ctx context.Context, addr uint32, key string) (*GetResult, error) {
	u := fmt.Sprintf("%s%s", c.baseURL, objectPath(addr, key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var etag uint64
	fmt.Sscanf(resp.Header.Get("ETag"), "%x", &etag)
	return &GetResult{Data: data, Etag: etag}, nil
}

// Delete removes the object at (addr, key). The server handles
// tombstone creation and replication; the client only sends the
// request.
func (c *Client) Delete(ctx context.Context, addr uint32, key string, checkUnderDir bool) error {
	u := fmt.Sprintf("%s%s?check_under_dir=%t", c.baseURL, objectPath(addr, key), checkUnderDir)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Head fetches metadata only for (addr, key).
func (c *Client) Head(ctx context.Context, addr uint32, key string) (uint64, uint64, error) {
	u := fmt.Sprintf("%s%s", c.baseURL, objectPath(addr, key))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return 0, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("HEAD request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, 0, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return 0, 0, err
	}

	var etag, size uint64
	fmt.Sscanf(resp.Header.Get("ETag"), "%x", &etag)
	fmt.Sscanf(resp.Header.Get("Content-Length"), "%d", &size)
	return etag, size, nil
}

// RaiseAlarm delivers a synthetic watchdog alarm at the given level to
// the node's adaptive controller, for operator-driven testing of the
// throttling/opportunistic-compaction path.
func (c *Client) RaiseAlarm(ctx context.Context, level uint8) error {
	body, err := json.Marshal(struct {
		Level uint8 `json:"Level"`
	}{level})
	if err != nil {
		return err
	}
	u := c.baseURL + "/internal/watchdog/alarm"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("watchdog alarm request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// CompactStatus fetches the node's compactor FSM status.
func (c *Client) CompactStatus(ctx context.Context) (objectmodel.CompactionStats, error) {
	u := c.baseURL + "/internal/compact_status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader([]byte("{}")))
	if err != nil {
		return objectmodel.CompactionStats{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return objectmodel.CompactionStats{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return objectmodel.CompactionStats{}, err
	}

	var stats objectmodel.CompactionStats
	return stats, json.NewDecoder(resp.Body).Decode(&stats)
}

// ─── Errors ─────────────────────────────────────────────────────────────

// ErrNotFound is returned when an object does not exist on the node.
var ErrNotFound = fmt.Errorf("object not found")

// APIError carries the HTTP status and error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts a non-2xx HTTP response into an APIError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
