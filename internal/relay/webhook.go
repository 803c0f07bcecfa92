package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const webhookTimeout = 10 * time.Second

// Webhook posts payloads as {"content": ...} JSON, the shape chat webhook
// endpoints accept. Formatting beyond that is the module's concern.
type Webhook struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhook creates a webhook sink.
func NewWebhook(url string, logger zerolog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

// Send posts one payload. Non-2xx responses are errors.
func (w *Webhook) Send(ctx context.Context, payload []byte) error {
	body, err := json.Marshal(map[string]string{"content": string(payload)})
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (w *Webhook) Close() error {
	return nil
}
