package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/utafrali/authority/pkg/httpclient"
)

// WebhookDispatcher posts messages as JSON to an email-delivery API.
type WebhookDispatcher struct {
	client   httpclient.Doer
	endpoint string
	apiKey   string
}

// NewWebhookDispatcher creates a webhook dispatcher. client is normally a
// *httpclient.CircuitBreakerClient wrapping a retrying *httpclient.Client.
func NewWebhookDispatcher(client httpclient.Doer, endpoint, apiKey string) *WebhookDispatcher {
	return &WebhookDispatcher{client: client, endpoint: endpoint, apiKey: apiKey}
}

// Name returns the transport name.
func (d *WebhookDispatcher) Name() string { return "webhook" }

// Send posts msg and treats any non-2xx response as a failure.
func (d *WebhookDispatcher) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	header := http.Header{}
	if d.apiKey != "" {
		header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := httpclient.PostJSON(ctx, d.client, d.endpoint, payload, header)
	if err != nil {
		return fmt.Errorf("notification webhook: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, "notification webhook")
	}
	_ = resp.Body.Close()
	return nil
}
