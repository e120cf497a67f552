// Package jobrun provides the HTTP client for the job-run API. The runner
// and scheduler go through this client rather than the stores directly, so
// multiple runner instances can share one queue behind the API's
// optimistic versioning.
package jobrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bookprices/crawler/internal/bookprice"
)

const defaultTimeout = 30 * time.Second

// APIKeyHeader carries the shared key on every request.
const APIKeyHeader = "X-Api-Key"

// Config holds the client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is an HTTP bookprice.JobRunStore.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// NextPendingRun asks the API for the highest-priority pending run, or nil
// when the queue is empty.
func (c *Client) NextPendingRun(ctx context.Context) (*bookprice.JobRun, error) {
	q := url.Values{}
	q.Set("status", string(bookprice.RunPending))
	q.Set("limit", "1")
	var runs []bookprice.JobRun
	if err := c.do(ctx, http.MethodGet, "/v1/job-runs?"+q.Encode(), nil, &runs); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// UpdateRunStatus submits a compare-and-set status transition.
func (c *Client) UpdateRunStatus(ctx context.Context, update bookprice.RunStatusUpdate) error {
	path := "/v1/job-runs/" + url.PathEscape(update.RunID)
	return c.do(ctx, http.MethodPatch, path, update, nil)
}

// CreateRun enqueues a run.
func (c *Client) CreateRun(ctx context.Context, run bookprice.JobRun) error {
	return c.do(ctx, http.MethodPost, "/v1/job-runs", run, nil)
}

// GetRun fetches one run by id.
func (c *Client) GetRun(ctx context.Context, id string) (bookprice.JobRun, error) {
	var run bookprice.JobRun
	err := c.do(ctx, http.MethodGet, "/v1/job-runs/"+url.PathEscape(id), nil, &run)
	return run, err
}

// ListRuns fetches runs, newest first, optionally filtered by status.
func (c *Client) ListRuns(ctx context.Context, status bookprice.JobRunStatus, limit int) ([]bookprice.JobRun, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/job-runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var runs []bookprice.JobRun
	err := c.do(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

// ListJobs fetches the active job catalog.
func (c *Client) ListJobs(ctx context.Context) ([]bookprice.JobDefinition, error) {
	var jobs []bookprice.JobDefinition
	err := c.do(ctx, http.MethodGet, "/v1/jobs", nil, &jobs)
	return jobs, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, bookprice.ErrVersionConflict)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, bookprice.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
