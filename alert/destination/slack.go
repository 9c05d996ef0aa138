package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opencatalyst/catalyst/event"
)

// Slack posts human-readable change summaries to a Slack incoming webhook.
// The whole batch becomes one message, one line per event.
type Slack struct {
	endpoint string
	client   *http.Client
}

type slackMessage struct {
	Text string `json:"text"`
}

// NewSlack creates a Slack chat destination.
func NewSlack(cfg Config) (*Slack, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("slack destination requires an endpoint")
	}
	return &Slack{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// Deliver posts a text message summarizing the batch.
func (s *Slack) Deliver(ctx context.Context, batch []*event.ChangeEvent) error {
	lines := make([]string, 0, len(batch))
	for _, ev := range batch {
		lines = append(lines, FormatEventLine(ev))
	}

	body, err := json.Marshal(slackMessage{Text: strings.Join(lines, "\n")})
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode slack payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Retriable(fmt.Errorf("slack call failed: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyHTTPStatus(resp.StatusCode)
}

// Close is a no-op.
func (s *Slack) Close() error { return nil }

// FormatEventLine renders one event as a chat line, e.g.
// "[table] warehouse.sales.orders updated by alice".
func FormatEventLine(ev *event.ChangeEvent) string {
	name := ev.EntityFQN
	if name == "" {
		name = ev.EntityID
	}

	verb := "changed"
	switch ev.EventType {
	case event.TypeCreated:
		verb = "created"
	case event.TypeUpdated:
		verb = "updated"
	case event.TypeDeleted:
		verb = "deleted"
	case event.TypeSoftDeleted:
		verb = "soft-deleted"
	case event.TypeRestored:
		verb = "restored"
	}

	line := fmt.Sprintf("[%s] %s %s", ev.EntityType, name, verb)
	if ev.UserName != "" {
		line += " by " + ev.UserName
	}
	return line
}
