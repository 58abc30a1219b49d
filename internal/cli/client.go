package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dramac/livechat-service/internal/api/dto"
	"github.com/dramac/livechat-service/internal/api/routes"
)

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func newClient(opts *options) *client {
	return &client{
		base:   strings.TrimRight(opts.server, "/"),
		apiKey: opts.apiKey,
		http:   &http.Client{Timeout: opts.timeout},
	}
}

func (c *client) tenantPath(tenant, suffix string) (string, error) {
	if tenant == "" {
		return "", fmt.Errorf("--tenant is required")
	}
	return routes.BasePath + "/tenants/" + url.PathEscape(tenant) + suffix, nil
}

// do sends body as JSON and decodes the response into out. Non-2xx
// responses become errors carrying the server message; out is still filled
// when the error body decodes into it.
func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		var apiErr dto.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s (%d)", apiErr.Code, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
