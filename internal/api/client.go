package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrDaemonUnavailable reports that no daemon answered at the API address.
var ErrDaemonUnavailable = errors.New("daemon not reachable")

// StatusError is a non-2xx API response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned http %d", e.StatusCode)
	}
	return e.Message
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// Client provides HTTP access to the daemon API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon bound at bind (host:port or URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var resp DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs returns jobs, optionally filtered by state names.
func (c *Client) ListJobs(ctx context.Context, states ...string) ([]Job, error) {
	path := "/api/jobs"
	if len(states) > 0 {
		q := url.Values{}
		for _, state := range states {
			q.Add("state", state)
		}
		path += "?" + q.Encode()
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob fetches one job by id or unique prefix.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// Submit asks the daemon to create a job for a file on its host.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Approve records an approval for a job awaiting review.
func (c *Client) Approve(ctx context.Context, id, decidedBy string) (*DecisionResponse, error) {
	return c.decision(ctx, id, "approve", DecisionRequest{DecidedBy: decidedBy})
}

// Reject records a rejection for a job awaiting review.
func (c *Client) Reject(ctx context.Context, id, decidedBy string) (*DecisionResponse, error) {
	return c.decision(ctx, id, "reject", DecisionRequest{DecidedBy: decidedBy})
}

// Edit changes one metadata field of a job awaiting review.
func (c *Client) Edit(ctx context.Context, id string, req EditRequest) (*DecisionResponse, error) {
	return c.decision(ctx, id, "edit", req)
}

// Retry resubmits a failed job.
func (c *Client) Retry(ctx context.Context, id string) (*Job, error) {
	return c.jobAction(ctx, id, "retry")
}

// Cancel stops a job that has not finished.
func (c *Client) Cancel(ctx context.Context, id string) (*Job, error) {
	return c.jobAction(ctx, id, "cancel")
}

// Logs fetches log events after since.
func (c *Client) Logs(ctx context.Context, since uint64, limit int, jobID string) (*LogStreamResponse, error) {
	return c.logs(ctx, since, limit, jobID, false)
}

// FollowLogs long-polls for events after since. The daemon answers with an
// empty batch when nothing arrives within its wait window.
func (c *Client) FollowLogs(ctx context.Context, since uint64, limit int, jobID string) (*LogStreamResponse, error) {
	return c.logs(ctx, since, limit, jobID, true)
}

func (c *Client) logs(ctx context.Context, since uint64, limit int, jobID string, follow bool) (*LogStreamResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatUint(since, 10))
	if follow {
		q.Set("follow", "1")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if jobID != "" {
		q.Set("job", jobID)
	}
	var resp LogStreamResponse
	if err := c.do(ctx, http.MethodGet, "/api/logs?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) decision(ctx context.Context, id, action string, body any) (*DecisionResponse, error) {
	var resp DecisionResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/"+action, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) jobAction(ctx context.Context, id, action string) (*Job, error) {
	var resp JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/"+action, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w at %s", ErrDaemonUnavailable, c.base)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
