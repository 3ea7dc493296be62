package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"agent-settlement-engine/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTPClient struct {
	requests []*http.Request
	bodies   [][]byte
	statuses []int
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, body)

	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func newInlineNotifier(url, secret string, client *fakeHTTPClient) *WebhookNotifier {
	n := NewWebhookNotifier(url, secret, client, zerolog.Nop())
	n.async = false
	return n
}

func testEvent() ports.NotificationEvent {
	return ports.NotificationEvent{
		Kind:        "escrow.released",
		AggregateID: "esc-1",
		Data:        map[string]string{"amount": "500"},
		OccurredAt:  time.Now().UTC(),
	}
}

func TestWebhookNotifier_DeliversSignedEvent(t *testing.T) {
	client := &fakeHTTPClient{}
	n := newInlineNotifier("https://hooks.example.com/events", "topsecret", client)

	n.Notify(testEvent())

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var got ports.NotificationEvent
	require.NoError(t, json.Unmarshal(client.bodies[0], &got))
	assert.Equal(t, "escrow.released", got.Kind)
	assert.Equal(t, "esc-1", got.AggregateID)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(client.bodies[0])
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.Header.Get("X-Signature"))
}

func TestWebhookNotifier_EmptyURLDisablesDelivery(t *testing.T) {
	client := &fakeHTTPClient{}
	n := newInlineNotifier("", "topsecret", client)

	n.Notify(testEvent())
	assert.Empty(t, client.requests)
}

func TestWebhookNotifier_RetriesOnServerError(t *testing.T) {
	orig := webhookRetryIntervals
	webhookRetryIntervals = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { webhookRetryIntervals = orig }()

	client := &fakeHTTPClient{statuses: []int{http.StatusInternalServerError, http.StatusOK}}
	n := newInlineNotifier("https://hooks.example.com/events", "s", client)

	n.Notify(testEvent())
	assert.Len(t, client.requests, 2)
}

func TestWebhookNotifier_GivesUpAfterRetriesExhausted(t *testing.T) {
	orig := webhookRetryIntervals
	webhookRetryIntervals = []time.Duration{time.Millisecond}
	defer func() { webhookRetryIntervals = orig }()

	client := &fakeHTTPClient{statuses: []int{
		http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError,
	}}
	n := newInlineNotifier("https://hooks.example.com/events", "s", client)

	n.Notify(testEvent())
	assert.Len(t, client.requests, 2) // initial attempt + one retry
}
