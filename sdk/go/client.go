// Package tracklinesdk is a minimal Trackline HTTP API client.
package tracklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

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

// Issue is the API issue model.
type Issue struct {
	ID            int64  `json:"id"`
	StateID       int64  `json:"state_id"`
	TemplateID    int64  `json:"template_id"`
	ProjectID     int64  `json:"project_id"`
	Subject       string `json:"subject"`
	AuthorID      int64  `json:"author_id"`
	ResponsibleID *int64 `json:"responsible_id,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	ChangedAt     int64  `json:"changed_at"`
	ClosedAt      *int64 `json:"closed_at,omitempty"`
	Reference     string `json:"reference"`
	Age           int    `json:"age"`
	Critical      bool   `json:"critical"`
	Frozen        bool   `json:"frozen"`
	Suspended     bool   `json:"suspended"`
}

type Comment struct {
	ID      int64  `json:"id"`
	IssueID int64  `json:"issue_id"`
	Body    string `json:"body"`
	Private bool   `json:"private"`
}

type Event struct {
	ID        int64    `json:"id"`
	Type      string   `json:"type"`
	IssueID   int64    `json:"issue_id"`
	UserID    int64    `json:"user_id"`
	CreatedAt int64    `json:"created_at"`
	Parameter *int64   `json:"parameter,omitempty"`
	Changes   []Change `json:"changes,omitempty"`
}

type Change struct {
	ID       int64  `json:"id"`
	EventID  int64  `json:"event_id"`
	FieldID  *int64 `json:"field_id,omitempty"`
	OldValue *int64 `json:"old_value,omitempty"`
	NewValue *int64 `json:"new_value,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIssue creates an issue from a template.
func (c *Client) CreateIssue(ctx context.Context, templateID int64, subject string, values map[string]string) (Issue, error) {
	body := map[string]any{
		"template_id": templateID,
		"subject":     subject,
	}
	if len(values) > 0 {
		body["values"] = values
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "v0/issues", body, &resp)
	return resp, err
}

// GetIssue fetches an issue by id.
func (c *Client) GetIssue(ctx context.Context, id int64) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/issues/%d", id), nil, &resp)
	return resp, err
}

// Transition moves an issue to a new state.
func (c *Client) Transition(ctx context.Context, issueID, stateID int64, responsible *int64) (Issue, error) {
	body := map[string]any{"state_id": stateID}
	if responsible != nil {
		body["responsible"] = *responsible
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/issues/%d/transition", issueID), body, &resp)
	return resp, err
}

// UpdateIssue edits the subject and field values.
func (c *Client) UpdateIssue(ctx context.Context, issueID int64, subject *string, values map[string]string) (Issue, error) {
	body := map[string]any{}
	if subject != nil {
		body["subject"] = *subject
	}
	if len(values) > 0 {
		body["values"] = values
	}
	var resp Issue
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/issues/%d", issueID), body, &resp)
	return resp, err
}

// AddComment records a comment on an issue.
func (c *Client) AddComment(ctx context.Context, issueID int64, text string, private bool) (Comment, error) {
	body := map[string]any{"body": text, "private": private}
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/issues/%d/comments", issueID), body, &resp)
	return resp, err
}

// Events returns the issue's audit trail with change diffs.
func (c *Client) Events(ctx context.Context, issueID int64) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/issues/%d/events", issueID), nil, &resp)
	return resp, err
}

// Values returns the issue's readable field values.
func (c *Client) Values(ctx context.Context, issueID int64) (map[string]string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/issues/%d/values", issueID), nil, &resp)
	return resp, err
}

// Evaluate asks the permission evaluator a question.
func (c *Client) Evaluate(ctx context.Context, action string, issueID int64) (string, error) {
	body := map[string]any{"action": action, "issue_id": issueID}
	var resp struct {
		Decision string `json:"decision"`
	}
	err := c.do(ctx, http.MethodPost, "v0/evaluate", body, &resp)
	return resp.Decision, err
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
