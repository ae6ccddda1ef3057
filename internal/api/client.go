// Package api is the REST client for the task backend. It covers the
// non-streaming surface: task CRUD, run, review, HITL, archive and stats.
// The live stream itself is handled by the stream package.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/pkg/logger"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Token is sent as a bearer token on every request when set.
	Token   string
	Timeout time.Duration
	Logger  *logger.Logger
}

// Client talks to the task backend over HTTP.
type Client struct {
	http    *resty.Client
	baseURL string
	token   string
	log     *logger.Logger
}

// New creates a backend API client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	httpClient.AddRetryCondition(retryCondition)

	if opts.Token != "" {
		httpClient.SetHeader("Authorization", "Bearer "+opts.Token)
	}

	return &Client{
		http:    httpClient,
		baseURL: opts.BaseURL,
		token:   opts.Token,
		log:     log,
	}
}

// retryCondition retries network errors and retryable status codes.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
	c.http.SetHeader("Authorization", "Bearer "+token)
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.token
}

// CreateTask creates a new task and returns its record, including the
// backend-assigned identifier.
func (c *Client) CreateTask(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	var task model.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &task, nil
}

// Task fetches one task by id.
func (c *Client) Task(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// RunTask starts or restarts a task.
func (c *Client) RunTask(ctx context.Context, taskID string) (*model.TaskRunResponse, error) {
	var resp model.TaskRunResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/run", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to run task: %w", err)
	}
	return &resp, nil
}

// TaskEvents fetches the durable event history for a task. Records are
// returned raw so the caller can skip individually malformed rows.
func (c *Client) TaskEvents(ctx context.Context, taskID string) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID)+"/events", nil, &records); err != nil {
		return nil, fmt.Errorf("failed to get task events: %w", err)
	}
	return records, nil
}

// ReviewTask submits an approve/reject decision for a task awaiting review.
func (c *Client) ReviewTask(ctx context.Context, taskID string, req *model.ReviewRequest) (*model.ReviewResponse, error) {
	var resp model.ReviewResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/review", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to review task: %w", err)
	}
	return &resp, nil
}

// RespondHITL answers a suspended task's human-in-the-loop question.
func (c *Client) RespondHITL(ctx context.Context, taskID string, req *model.HITLRequest) (*model.HITLResponse, error) {
	var resp model.HITLResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/hitl", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to respond to HITL checkpoint: %w", err)
	}
	return &resp, nil
}

// ArchiveTask archives a completed task.
func (c *Client) ArchiveTask(ctx context.Context, taskID string, req *model.ArchiveRequest) (*model.ArchiveResponse, error) {
	if req == nil {
		req = &model.ArchiveRequest{}
	}
	var resp model.ArchiveResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/archive", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to archive task: %w", err)
	}
	return &resp, nil
}

// UserTasks lists a user's tasks, optionally filtered by status.
func (c *Client) UserTasks(ctx context.Context, userID string, params model.TaskListParams) ([]model.Task, error) {
	query := url.Values{}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}
	if params.IncludeArchived {
		query.Set("include_archived", "true")
	}

	path := "/api/v1/users/" + url.PathEscape(userID) + "/tasks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var tasks []model.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// UserStats fetches a user's aggregate task statistics.
func (c *Client) UserStats(ctx context.Context, userID string) (*model.UserStatsResponse, error) {
	var stats model.UserStatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(userID)+"/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return &stats, nil
}

// Health checks backend liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// MintDevToken fetches a development bearer token from the simulated
// backend and installs it on the client.
func (c *Client) MintDevToken(ctx context.Context, userID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"user_id": userID}
	if err := c.do(ctx, http.MethodPost, "/auth/token", body, &resp); err != nil {
		return "", fmt.Errorf("failed to mint dev token: %w", err)
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// StreamURL builds the stream endpoint for a task.
func (c *Client) StreamURL(taskID string) string {
	return c.baseURL + "/api/v1/tasks/" + url.PathEscape(taskID) + "/stream"
}

// StreamHeader returns the headers a stream connection should carry.
func (c *Client) StreamHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// do performs one request with context cancellation support and uniform
// error mapping.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if resp.IsError() {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Detail:     errorDetail(resp.Body()),
		}
	}

	return nil
}

// errorDetail extracts a human-readable message from an error body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Error
}
