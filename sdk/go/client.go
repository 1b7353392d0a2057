package taskdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	DueDate     *string  `json:"due_date,omitempty"`
	AssignedTo  []string `json:"assigned_to,omitempty"`
	CreatedBy   string   `json:"created_by"`
	CanAccess   []string `json:"can_access,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// Activity represents one change-trail record.
type Activity struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	ActorID     string         `json:"actor_id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Description string         `json:"description"`
	CreatedAt   string         `json:"created_at"`
}

// ActivityDay is one calendar day of records.
type ActivityDay struct {
	Date    string     `json:"date"`
	Records []Activity `json:"records"`
}

// ActivityList wraps the activity listing response.
type ActivityList struct {
	Items []Activity    `json:"items"`
	Days  []ActivityDay `json:"days,omitempty"`
}

// TaskCreate holds parameters for CreateTask.
type TaskCreate struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	AssignedTo  []string `json:"assigned_to,omitempty"`
}

// TaskUpdate holds parameters for UpdateTask; nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login mints a development bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, userID string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{"user_id": userID}, &resp)
	if err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, req TaskCreate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", req, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns tasks visible to the caller. Any filter may be empty.
func (c *Client) ListTasks(ctx context.Context, status, priority, assignee string) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if priority != "" {
		q.Set("priority", priority)
	}
	if assignee != "" {
		q.Set("assignee", assignee)
	}
	endpoint := "v0/tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTask edits task fields or status.
func (c *Client) UpdateTask(ctx context.Context, id string, req TaskUpdate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(id), req, &resp)
	return resp, err
}

// Reassign adds and removes assignees.
func (c *Client) Reassign(ctx context.Context, id string, add, remove []string) (Task, error) {
	body := map[string]any{"add": add, "remove": remove}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks/"+url.PathEscape(id)+"/assignees", body, &resp)
	return resp, err
}

// AddComment records a comment reference against a task.
func (c *Client) AddComment(ctx context.Context, taskID, commentID string) (Activity, error) {
	var resp Activity
	endpoint := "v0/tasks/" + url.PathEscape(taskID) + "/comments"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment_id": commentID}, &resp)
	return resp, err
}

// Activity returns a task's activity trail, optionally grouped by day.
func (c *Client) Activity(ctx context.Context, taskID string, byDay bool) (ActivityList, error) {
	endpoint := "v0/tasks/" + url.PathEscape(taskID) + "/activity"
	if byDay {
		endpoint += "?group_by=day"
	}
	var resp ActivityList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteTask deletes a task and its activity trail.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
