// Package api is the HTTP client for the management backend: project
// snapshot and changelog reads, plus pushes for purely-local modules and
// sample declarations.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/internal/httpclient"
	"github.com/weavel-fastllm/fastllm/store"
)

const (
	defaultTimeout = 30 * time.Second

	maxAttempts    = 5
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Client talks to the management backend for one project.
type Client struct {
	baseURL     string
	token       string
	projectUUID string
	httpClient  *httpclient.SaferClient
	logger      *zap.SugaredLogger
}

// NewClient creates a backend client. The token is sent as a Bearer
// credential on every request.
func NewClient(baseURL, token, projectUUID string, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		token:       token,
		projectUUID: projectUUID,
		httpClient:  httpclient.NewSaferClient(defaultTimeout),
		logger:      logger,
	}
}

// SetHTTPClient allows overriding the HTTP client for testing.
// The client is wrapped without SSRF protection so httptest servers work.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}

// PullProject fetches the backend's full snapshot of the project.
func (c *Client) PullProject(ctx context.Context) (*Snapshot, error) {
	params := url.Values{}
	params.Set("project_uuid", c.projectUUID)

	body, err := c.do(ctx, http.MethodGet, "/pull_project", params, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pull project snapshot")
	}

	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, errors.Wrap(err, "failed to decode project snapshot")
	}
	return &snapshot, nil
}

// GetChangelog fetches changelog entries newer than the local project
// version, oldest first, limited to the given levels.
func (c *Client) GetChangelog(ctx context.Context, localVersion string, levels []int) ([]ChangelogEntry, error) {
	params := url.Values{}
	params.Set("project_uuid", c.projectUUID)
	params.Set("local_project_version", localVersion)
	for _, level := range levels {
		params.Add("levels", strconv.Itoa(level))
	}

	body, err := c.do(ctx, http.MethodGet, "/get_changelog", params, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch changelog")
	}

	var entries []ChangelogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, "failed to decode changelog")
	}
	return entries, nil
}

// PushLocalModules reports modules that exist only locally so the backend
// can create them.
func (c *Client) PushLocalModules(ctx context.Context, modules []*store.Module) error {
	if len(modules) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"project_uuid": c.projectUUID,
		"modules":      modules,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal modules")
	}

	if _, err := c.do(ctx, http.MethodPost, "/push_local_modules", nil, payload); err != nil {
		return errors.Wrap(err, "failed to push local modules")
	}

	c.logger.Debugw("Pushed local modules to backend", "count", len(modules))
	return nil
}

// UpdateSamples replaces the backend's sample declarations for the project.
func (c *Client) UpdateSamples(ctx context.Context, samples []*store.Sample) error {
	payload, err := json.Marshal(map[string]interface{}{
		"project_uuid": c.projectUUID,
		"samples":      samples,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal samples")
	}

	if _, err := c.do(ctx, http.MethodPost, "/update_samples", nil, payload); err != nil {
		return errors.Wrap(err, "failed to update samples")
	}

	c.logger.Debugw("Updated backend samples", "count", len(samples))
	return nil
}

// do executes one backend request, retrying transport failures and 5xx
// responses with capped exponential backoff. 4xx responses fail immediately.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := initialBackoff * time.Duration(1<<(attempt-2))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.logger.Debugw("Retrying backend request",
				"path", path,
				"attempt", attempt,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = errors.Wrapf(err, "request to %s failed", path)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = errors.Wrapf(readErr, "failed to read response from %s", path)
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = errors.Newf("backend returned status %d for %s: %s", resp.StatusCode, path, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Newf("backend returned status %d for %s: %s", resp.StatusCode, path, string(respBody))
		}

		return respBody, nil
	}

	return nil, lastErr
}
