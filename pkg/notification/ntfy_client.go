package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const ntfyTimeout = 10 * time.Second

// NtfyClient publishes notifications to an ntfy server.
type NtfyClient struct {
	server string
	topic  string
	client *http.Client
}

type ntfyMessage struct {
	Topic   string   `json:"topic"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Tags    []string `json:"tags,omitempty"`
}

// NewNtfyClient creates a client publishing to topic on server.
func NewNtfyClient(server, topic string) *NtfyClient {
	return &NtfyClient{
		server: server,
		topic:  topic,
		client: &http.Client{Timeout: ntfyTimeout},
	}
}

// Send publishes the notification as JSON to the server root.
func (c *NtfyClient) Send(notification Notification) error {
	payload, err := json.Marshal(ntfyMessage{
		Topic:   c.topic,
		Title:   notification.Title,
		Message: notification.Message,
		Tags:    notification.Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to encode ntfy message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.server, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ntfy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}
