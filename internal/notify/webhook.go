package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// URLResolver maps an owner to their configured webhook endpoint.
type URLResolver func(ctx context.Context, ownerID string) (string, error)

type WebhookSender struct {
	client  *http.Client
	resolve URLResolver
}

func NewWebhookSender(resolve URLResolver) *WebhookSender {
	return &WebhookSender{
		client:  &http.Client{Timeout: 10 * time.Second},
		resolve: resolve,
	}
}

func (w *WebhookSender) Name() string { return "webhook" }

func (w *WebhookSender) Send(ctx context.Context, ownerID string, msg Message) error {
	url, err := w.resolve(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("resolve webhook for owner %s: %w", ownerID, err)
	}

	payload, err := json.Marshal(map[string]string{
		"owner_id": ownerID,
		"subject":  msg.Subject,
		"body":     msg.Body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
