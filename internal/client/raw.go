package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RawGet issues a plain GET against an arbitrary server-relative path and
// returns the response body verbatim, for operator routes this SDK has
// no typed wrapper for (e.g. "/health" or a peer RPC an operator wants
// to probe directly rather than through its typed request/response
// shape). path must be server-relative; a bare name like "health" is
// coerced to "/health" so storagectl's raw command doesn't require
// operators to remember the leading slash.
func (c *Client) RawGet(ctx context.Context, path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s%s", c.baseURL, path), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("raw GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	return string(body), err
}
