package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier delivers a finished run's summary to whoever is on call.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// SlackNotifier posts run summaries to a Slack webhook.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, subject, body string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}

	payload := map[string]string{
		"MSG_TITLE": subject,
		"MSG_BODY":  body,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling slack payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("error creating slack request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("error sending slack notification: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification failed with status: %s", response.Status)
	}

	return nil
}
