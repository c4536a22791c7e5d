// Package rzx provides a client for the RZX chat relay.
package rzx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultURL is used when no server URL is given.
const DefaultURL = "http://localhost:8080"

// Client is an RZX HTTP API client.
type Client struct {
	BaseURL    string
	ClientID   string
	HTTPClient *http.Client
}

// NewClient creates a new RZX client acting as clientID.
func NewClient(baseURL, clientID string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		ClientID: clientID,
		// Generating a project waits on the LLM
		HTTPClient: &http.Client{Timeout: 3 * time.Minute},
	}
}

// APIError is returned for any response with a status of 400 or above.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("rzx error %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("rzx error %d: %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request and decodes the JSON answer into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Details: errResp.Details}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// StatusResponse is the server status.
type StatusResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	StartedAt   string  `json:"startedAt"`
	Timestamp   string  `json:"timestamp"`
	Connections int     `json:"connections"`
}

// Status reports whether the server is online.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reply is the answer to a single-shot message.
type Reply struct {
	Response    string `json:"response"`
	CommandType string `json:"commandType"`
	ProjectID   string `json:"projectId,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// SendMessage dispatches one message without a WebSocket session.
func (c *Client) SendMessage(ctx context.Context, message string) (*Reply, error) {
	req := map[string]string{"clientId": c.ClientID, "message": message}
	var resp Reply
	if err := c.doRequest(ctx, http.MethodPost, "/api/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Project is a materialized project.
type Project struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	CreatedAt string   `json:"createdAt"`
	Files     []string `json:"files"`
}

// ListProjects lists every project on the server.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(id), nil, nil)
}

// Preview is a servable copy of a project.
type Preview struct {
	ID   string `json:"previewId"`
	URL  string `json:"previewUrl"`
	Path string `json:"previewPath"`
}

// CreatePreview copies a project into a new preview.
func (c *Client) CreatePreview(ctx context.Context, projectID string) (*Preview, error) {
	var resp Preview
	path := "/api/projects/" + url.PathEscape(projectID) + "/preview"
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProjectEvent describes a change to a project.
type ProjectEvent struct {
	ProjectID string         `json:"projectId"`
	Action    string         `json:"action"`
	Timestamp string         `json:"timestamp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NotifyProjectEvent records a project event on the server.
func (c *Client) NotifyProjectEvent(ctx context.Context, ev ProjectEvent) error {
	return c.doRequest(ctx, http.MethodPost, "/api/project-events", ev, nil)
}

// LatestProjectEvent returns the most recent project event, or nil when none was recorded.
func (c *Client) LatestProjectEvent(ctx context.Context) (*ProjectEvent, error) {
	var resp struct {
		Event *ProjectEvent `json:"event"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/project-events/latest", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Event, nil
}

// Message is one chat transcript entry.
type Message struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender"`
}

// Document is one entry of the fallback channel.
type Document struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Timestamp int64   `json:"timestamp"`
	Data      Message `json:"data"`
}

// History returns the last limit messages stored for this client, oldest first.
func (c *Client) History(ctx context.Context, limit int) ([]Message, error) {
	path := "/api/chats/" + url.PathEscape(c.ClientID) + "/messages?orderBy=timestamp"
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}

	var resp struct {
		Messages []Document `json:"messages"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	msgs := make([]Message, len(resp.Messages))
	for i, d := range resp.Messages {
		msgs[i] = d.Data
	}
	return msgs, nil
}

// AppendHistory stores a user message in the fallback channel.
func (c *Client) AppendHistory(ctx context.Context, content string) (*Document, error) {
	var resp struct {
		Document Document `json:"document"`
	}
	path := "/api/chats/" + url.PathEscape(c.ClientID) + "/messages"
	if err := c.doRequest(ctx, http.MethodPost, path, map[string]string{"content": content}, &resp); err != nil {
		return nil, err
	}
	return &resp.Document, nil
}
