package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	obstracing "github.com/smallbiznis/salestax/internal/observability/tracing"
)

var ErrWebhookNotConfigured = errors.New("slack_webhook_not_configured")

type Provider interface {
	PostMessage(ctx context.Context, channelID string, message string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) PostMessage(ctx context.Context, channelID string, message string) error {
	return nil
}

// WebhookProvider posts messages to a Slack incoming webhook.
type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhookProvider(url string, client *http.Client) *WebhookProvider {
	if client == nil {
		client = obstracing.WrapHTTPClient(&http.Client{Timeout: 5 * time.Second})
	}
	return &WebhookProvider{url: strings.TrimSpace(url), client: client}
}

type webhookPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

func (p *WebhookProvider) PostMessage(ctx context.Context, channelID string, message string) error {
	if p.url == "" {
		return ErrWebhookNotConfigured
	}
	body, err := json.Marshal(webhookPayload{Channel: strings.TrimSpace(channelID), Text: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
