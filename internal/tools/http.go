package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPActions implements the sender interfaces against an external automation
// service: each action is a JSON POST to a well-known path under the base URL.
// The service owns the actual SMTP relay, notes backend, calendar sync and SMS
// gateway; this process only hands off.
type HTTPActions struct {
	base   string
	client *http.Client
}

func NewHTTPActions(baseURL string) *HTTPActions {
	return &HTTPActions{
		base:   baseURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPActions) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("action %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (a *HTTPActions) SendEmail(ctx context.Context, to, subject, body string) error {
	return a.post(ctx, "/email", map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

func (a *HTTPActions) AppendNote(ctx context.Context, title, content string) error {
	return a.post(ctx, "/notes", map[string]string{
		"title":   title,
		"content": content,
	})
}

func (a *HTTPActions) CreateEvent(ctx context.Context, title string, start, end time.Time, location string) error {
	return a.post(ctx, "/calendar", map[string]string{
		"title":    title,
		"start":    start.Format(time.RFC3339),
		"end":      end.Format(time.RFC3339),
		"location": location,
	})
}

func (a *HTTPActions) SendSMS(ctx context.Context, to, body string) error {
	return a.post(ctx, "/sms", map[string]string{
		"to":   to,
		"body": body,
	})
}
