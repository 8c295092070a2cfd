package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPMailClient delivers emails through the mail relay sidecar.
type HTTPMailClient struct {
	url    string
	client *http.Client
}

// NewHTTPMailClient creates a new HTTPMailClient.
func NewHTTPMailClient(url string) *HTTPMailClient {
	return &HTTPMailClient{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Send implements Mailer.
func (c *HTTPMailClient) Send(ctx context.Context, msg EmailMessage) error {
	return postJSON(ctx, c.client, c.url+"/send", msg)
}

// HTTPMessenger delivers in-app notifications through the messaging service.
type HTTPMessenger struct {
	url    string
	client *http.Client
}

// NewHTTPMessenger creates a new HTTPMessenger.
func NewHTTPMessenger(url string) *HTTPMessenger {
	return &HTTPMessenger{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Notify implements Messenger.
func (c *HTTPMessenger) Notify(ctx context.Context, n Notification) error {
	return postJSON(ctx, c.client, c.url+"/notifications", n)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}
	return nil
}
