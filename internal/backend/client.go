// Package backend wraps the application backend's pull/ack HTTP endpoints
// (spec §6), reusing the teacher's HTTPClient seam so the poller can be
// tested against a fake transport.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/messaging-gateway/internal/models"
)

// Timeout is the per-request bound spec §5 places on backend GET/POST.
const Timeout = 10 * time.Second

// HTTPClient abstracts http.Client.Do for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the application backend's pending-messages and mark-sent
// endpoints.
type Client struct {
	baseURL    string
	key        string
	httpClient HTTPClient
}

// New constructs a backend Client.
func New(baseURL, key string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: Timeout}
	}
	return &Client{baseURL: baseURL, key: key, httpClient: httpClient}
}

// PendingMessages implements spec §6's backend pull operation.
func (c *Client) PendingMessages(ctx context.Context, tenantID string) (models.PendingMessagesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/pending-messages?tenantId=%s", c.baseURL, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.PendingMessagesResponse{}, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.PendingMessagesResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.PendingMessagesResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.PendingMessagesResponse{}, fmt.Errorf("backend: pending-messages http %d: %s", resp.StatusCode, string(body))
	}

	var out models.PendingMessagesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return models.PendingMessagesResponse{}, err
	}
	return out, nil
}

// MarkSent implements spec §6's backend ack operation.
func (c *Client) MarkSent(ctx context.Context, req models.MarkSentRequest) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mark-sent", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend: mark-sent http %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
}
