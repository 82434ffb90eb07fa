package studytrailsdk

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

// Client is a minimal StudyTrail HTTP API client.
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

// Topic is the API topic model (partial).
type Topic struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Version  int    `json:"version"`
	Progress int    `json:"progress"`
	Goals    []Goal `json:"goals,omitempty"`
}

// Goal is the API goal model (partial).
type Goal struct {
	ID       string `json:"id"`
	TopicID  string `json:"topic_id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Version  int    `json:"version"`
	Progress int    `json:"progress"`
	Tasks    []Task `json:"tasks,omitempty"`
}

// Task is the API task model (partial).
type Task struct {
	ID           string       `json:"id"`
	GoalID       string       `json:"goal_id"`
	Title        string       `json:"title"`
	Status       string       `json:"status"`
	TaskType     string       `json:"task_type"`
	Version      int          `json:"version"`
	ProgressData ProgressData `json:"progress_data"`
}

// ProgressData carries a task's accumulated counters.
type ProgressData struct {
	CheckInCount   int     `json:"check_in_count"`
	CurrentCount   int     `json:"current_count"`
	CurrentAmount  float64 `json:"current_amount"`
	CurrentStreak  int     `json:"current_streak"`
	LongestStreak  int     `json:"longest_streak"`
	LastActionDate string  `json:"last_action_date,omitempty"`
}

// Event is a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Topics returns the full topic tree.
func (c *Client) Topics(ctx context.Context) ([]Topic, error) {
	var resp []Topic
	err := c.do(ctx, http.MethodGet, "v0/topics", nil, &resp)
	return resp, err
}

// CreateTopic creates a topic.
func (c *Client) CreateTopic(ctx context.Context, title string) (Topic, error) {
	var resp Topic
	err := c.do(ctx, http.MethodPost, "v0/topics", map[string]any{"title": title}, &resp)
	return resp, err
}

// UpdateTask patches a task carrying the version read before editing.
func (c *Client) UpdateTask(ctx context.Context, taskID string, expectedVersion int, fields map[string]any) (Task, error) {
	body := map[string]any{"expected_version": expectedVersion}
	for k, v := range fields {
		body[k] = v
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// CheckIn records today's check-in on a recurring task.
func (c *Client) CheckIn(ctx context.Context, taskID string) (Task, error) {
	var resp struct {
		Task Task `json:"task"`
	}
	endpoint := fmt.Sprintf("v0/tasks/%s/actions", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"action_type": "check_in"}, &resp)
	return resp.Task, err
}

// CancelTodayCheckIn reverses today's check-in.
func (c *Client) CancelTodayCheckIn(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/actions/check-in/today", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

// CompleteTask marks a task done through the record guard.
func (c *Client) CompleteTask(ctx context.Context, taskID string, expectedVersion int) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"expected_version": expectedVersion}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
