package taskbridgesdk

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

// Client is a minimal Taskbridge HTTP API client.
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
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Budget         float64 `json:"budget"`
	CreatedBy      string  `json:"created_by"`
	AssignedTo     *string `json:"assigned_to,omitempty"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	AssignedAt     *string `json:"assigned_at,omitempty"`
	CompletionDate *string `json:"completion_date,omitempty"`
}

// Acceptance represents an application to a task.
type Acceptance struct {
	ID              string `json:"id"`
	TaskID          string `json:"task_id"`
	AcceptorID      string `json:"acceptor_id"`
	TaskOwnerID     string `json:"task_owner_id"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	ResponseMessage string `json:"response_message,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// AcceptResult identifies the acceptance and conversation created by Accept.
type AcceptResult struct {
	AcceptanceID   string `json:"acceptance_id"`
	ConversationID string `json:"conversation_id"`
}

// Conversation represents a task's chat thread.
type Conversation struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	Participants  []string `json:"participants"`
	LastMessage   string   `json:"last_message,omitempty"`
	LastMessageAt *string  `json:"last_message_at,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Message represents one conversation entry.
type Message struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	SenderID         string         `json:"sender_id"`
	Content          string         `json:"content"`
	IsRead           bool           `json:"is_read"`
	IsSystemMessage  bool           `json:"is_system_message"`
	IsNotification   bool           `json:"is_notification"`
	NotificationType *string        `json:"notification_type,omitempty"`
	NotificationData map[string]any `json:"notification_data,omitempty"`
	CreatedAt        string         `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask posts a task.
func (c *Client) CreateTask(ctx context.Context, title, description string, budget float64) (Task, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"budget":      budget,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Accept applies to a task.
func (c *Client) Accept(ctx context.Context, taskID, message string) (AcceptResult, error) {
	body := map[string]any{"message": message}
	var resp AcceptResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/accept", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// Respond confirms or rejects an acceptance.
func (c *Client) Respond(ctx context.Context, acceptanceID, decision, responseMessage string) (Acceptance, error) {
	body := map[string]any{
		"decision":         decision,
		"response_message": responseMessage,
	}
	var resp Acceptance
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/acceptances/%s/respond", url.PathEscape(acceptanceID)), body, &resp)
	return resp, err
}

// Finish marks an assigned task finished.
func (c *Client) Finish(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/finish", url.PathEscape(taskID)), map[string]any{}, &resp)
	return resp, err
}

// Complete confirms completion of a finished task.
func (c *Client) Complete(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/complete", url.PathEscape(taskID)), map[string]any{}, &resp)
	return resp, err
}

// Cancel withdraws an open or assigned task.
func (c *Client) Cancel(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/cancel", url.PathEscape(taskID)), map[string]any{}, &resp)
	return resp, err
}

// DeleteTask removes an open task nobody has applied to.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "v0/tasks/"+url.PathEscape(taskID), nil, nil)
}

// MyAcceptances lists the applications the authenticated user has filed.
func (c *Client) MyAcceptances(ctx context.Context) ([]Acceptance, error) {
	var resp []Acceptance
	err := c.do(ctx, http.MethodGet, "v0/me/acceptances", nil, &resp)
	return resp, err
}

// Acceptances lists applications for a task.
func (c *Client) Acceptances(ctx context.Context, taskID string) ([]Acceptance, error) {
	var resp []Acceptance
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%s/acceptances", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// TaskConversation returns the conversation bound to a task.
func (c *Client) TaskConversation(ctx context.Context, taskID string) (Conversation, error) {
	var resp Conversation
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%s/conversation", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// Messages lists a conversation's messages.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp []Message
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/conversations/%s/messages", url.PathEscape(conversationID)), nil, &resp)
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
