// Package api is the thin REST client for the message endpoints. The inbox
// depends on the MessagesAPI contract only, so tests substitute a double.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"classroom-messaging/internal/models"
)

// ErrUnsuccessful is returned when the backend answers with success=false.
var ErrUnsuccessful = errors.New("api: request unsuccessful")

// MessagesAPI is the REST collaborator surface the messaging client consumes.
type MessagesAPI interface {
	ListMessages(ctx context.Context) ([]models.Message, error)
	CreateMessage(ctx context.Context, draft models.SendDraft) (models.Message, error)
}

type listResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Messages []models.Message `json:"messages"`
	} `json:"data"`
}

type createResponse struct {
	Success bool           `json:"success"`
	Data    models.Message `json:"data"`
}

// Client calls the relay's REST endpoints with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a Client. httpClient may be nil to use the default.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// ListMessages fetches the full message list for the authenticated user.
func (c *Client) ListMessages(ctx context.Context) ([]models.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/messages", nil)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("list messages: %w", ErrUnsuccessful)
	}
	return resp.Data.Messages, nil
}

// CreateMessage stores a new message and returns the confirmed record.
func (c *Client) CreateMessage(ctx context.Context, draft models.SendDraft) (models.Message, error) {
	body, err := json.Marshal(draft)
	if err != nil {
		return models.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return models.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp createResponse
	if err := c.do(req, &resp); err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	if !resp.Success {
		return models.Message{}, fmt.Errorf("create message: %w", ErrUnsuccessful)
	}
	return resp.Data, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ MessagesAPI = (*Client)(nil)
