// Package notification delivers state-transition events to a configured
// webhook endpoint. Delivery is fire-and-forget: domain operations never
// wait on it and a lost notification is never a correctness problem.
package notification

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"agent-settlement-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// webhookRetryIntervals spaces out redelivery attempts after a failure.
var webhookRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	5 * time.Minute,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookNotifier implements ports.Notifier by POSTing each event to a
// single configured URL, signed with an HMAC-SHA256 of the body.
type WebhookNotifier struct {
	url        string
	secret     []byte
	httpClient HTTPClient
	log        zerolog.Logger

	// async gates the delivery goroutine; tests set it false to deliver inline.
	async bool
}

// NewWebhookNotifier creates a WebhookNotifier. An empty url disables
// delivery entirely.
func NewWebhookNotifier(url, secret string, httpClient HTTPClient, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     []byte(secret),
		httpClient: httpClient,
		log:        log,
		async:      true,
	}
}

// Notify dispatches one event. Never blocks the caller.
func (n *WebhookNotifier) Notify(event ports.NotificationEvent) {
	if n.url == "" {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.log.Error().Err(err).Str("kind", event.Kind).Msg("webhook: failed to marshal event")
		return
	}
	if n.async {
		go n.deliverWithRetries(body, event.Kind)
	} else {
		n.deliverWithRetries(body, event.Kind)
	}
}

func (n *WebhookNotifier) deliverWithRetries(body []byte, kind string) {
	for attempt := 0; attempt <= len(webhookRetryIntervals); attempt++ {
		if attempt > 0 {
			time.Sleep(webhookRetryIntervals[attempt-1])
		}

		req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			n.log.Error().Err(err).Str("kind", kind).Int("attempt", attempt+1).Msg("webhook: failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", n.sign(body))

		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.log.Warn().Err(err).Str("kind", kind).Int("attempt", attempt+1).Msg("webhook: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Debug().Str("kind", kind).Int("attempt", attempt+1).Msg("webhook: delivered")
			return
		}
		n.log.Warn().Str("kind", kind).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("webhook: non-2xx response, retrying")
	}

	n.log.Error().Str("kind", kind).Msg("webhook: all retry attempts exhausted")
}

func (n *WebhookNotifier) sign(body []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
