package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin api error: status %d", e.Status)
	}
	return fmt.Sprintf("admin api error: status %d: %s", e.Status, e.Message)
}

// Client talks to a running bot's admin API. Mutations go through the bot so
// its in-memory state stays the only writer of the state file.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL authenticating with token. A nil
// hc uses http.DefaultClient.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, httpClient: hc}
}

// Status fetches the scheduler, today's record, retained records and catalog.
func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var view StatusView
	err := c.do(ctx, http.MethodGet, "/admin/status", &view)
	return view, err
}

// ResetDay deletes the record for date.
func (c *Client) ResetDay(ctx context.Context, date string) (DayChange, error) {
	var change DayChange
	err := c.do(ctx, http.MethodDelete, "/admin/days/"+url.PathEscape(date), &change)
	return change, err
}

// CancelDay gives back the confirmed pick for date.
func (c *Client) CancelDay(ctx context.Context, date string) (DayChange, error) {
	var change DayChange
	err := c.do(ctx, http.MethodPost, "/admin/days/"+url.PathEscape(date)+"/cancel", &change)
	return change, err
}

// Prune drops records past the retention window and persists the result.
func (c *Client) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	err := c.do(ctx, http.MethodPost, "/admin/prune", &res)
	return res, err
}

// Run starts the daily menu task on the bot. It returns once the run is
// accepted, not when it finishes.
func (c *Client) Run(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/run", nil)
}

func (c *Client) do(ctx context.Context, method, path string, data interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	envelope := Response{Data: data}
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: envelope.Error}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if !envelope.Success {
		return &APIError{Status: resp.StatusCode, Message: envelope.Error}
	}
	return nil
}
