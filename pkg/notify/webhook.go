package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPWebhook posts JSON payloads to arbitrary URLs. It satisfies
// WebhookSender using a plain http.Client.
type HTTPWebhook struct {
	client *http.Client
}

// NewHTTPWebhook creates a webhook sink. A nil client gets a 10s-timeout default.
func NewHTTPWebhook(client *http.Client) *HTTPWebhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPWebhook{client: client}
}

// Post sends the payload as a JSON body.
func (w *HTTPWebhook) Post(ctx context.Context, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}
	return nil
}
