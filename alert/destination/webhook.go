package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/opencatalyst/catalyst/event"
)

const defaultHTTPTimeout = 10 * time.Second

// webhookPayload is the JSON body posted to generic webhook endpoints.
type webhookPayload struct {
	Events []*event.ChangeEvent `json:"events"`
}

// Webhook posts JSON batches to a configured HTTP endpoint. Delivery is
// at-least-once: the X-Catalyst-Delivery header carries a content hash so
// idempotent consumers can drop redelivered batches.
type Webhook struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewWebhook creates a webhook destination.
func NewWebhook(cfg Config) (*Webhook, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("webhook destination requires an endpoint")
	}
	return &Webhook{
		endpoint: cfg.Endpoint,
		secret:   cfg.Secret,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// Deliver posts the batch as one JSON document.
func (w *Webhook) Deliver(ctx context.Context, batch []*event.ChangeEvent) error {
	body, err := json.Marshal(webhookPayload{Events: batch})
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Catalyst-Delivery", fmt.Sprintf("%016x", xxhash.Sum64(body)))
	if w.secret != "" {
		req.Header.Set("X-Catalyst-Secret", w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Retriable(fmt.Errorf("webhook call failed: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyHTTPStatus(resp.StatusCode)
}

// Close is a no-op; the HTTP client holds no per-destination resources.
func (w *Webhook) Close() error { return nil }

// classifyHTTPStatus maps a response status to the delivery taxonomy:
// 2xx success, 4xx permanent, everything else retriable.
func classifyHTTPStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return &DeliveryError{Permanent: true, Status: status, Err: fmt.Errorf("destination rejected payload")}
	default:
		return &DeliveryError{Status: status, Err: fmt.Errorf("destination unavailable")}
	}
}
