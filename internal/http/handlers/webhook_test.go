package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-concierge/internal/automation"
	"github.com/wolfman30/clinic-concierge/internal/messaging"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const inboundPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "WABA", "changes": [{"field": "messages", "value": {
    "metadata": {"phone_number_id": "1029"},
    "messages": [
      {"from": "5511999990000", "id": "wamid.1", "timestamp": "1717243200", "type": "text", "text": {"body": "Oi"}},
      {"from": "5511999990001", "id": "wamid.2", "timestamp": "1717243201", "type": "text", "text": {"body": "Olá"}}
    ]
  }}]}]
}`

type recordingQueue struct {
	mu   sync.Mutex
	msgs []messaging.Inbound
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, msg messaging.Inbound) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.msgs = append(q.msgs, msg)
	return "job-" + msg.ID, nil
}

type failingDedupe struct{}

func (failingDedupe) MarkProcessed(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func postWebhook(h *WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(messaging.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.HandleMessages(rec, req)
	return rec
}

func TestWebhookEnqueuesEachMessage(t *testing.T) {
	queue := &recordingQueue{}
	h := NewWebhookHandler(WebhookConfig{Queue: queue, Dedupe: automation.NewMemoryStore(), Logger: logging.Discard()})

	rec := postWebhook(h, inboundPayload, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":2,"queued":2}`, rec.Body.String())
	require.Len(t, queue.msgs, 2)
	assert.Equal(t, "1029", queue.msgs[0].TenantKey)
	assert.Equal(t, "Olá", queue.msgs[1].Text)
}

func TestWebhookDropsProviderRetries(t *testing.T) {
	queue := &recordingQueue{}
	h := NewWebhookHandler(WebhookConfig{Queue: queue, Dedupe: automation.NewMemoryStore(), Logger: logging.Discard()})

	postWebhook(h, inboundPayload, "")
	rec := postWebhook(h, inboundPayload, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":2,"queued":0}`, rec.Body.String())
	assert.Len(t, queue.msgs, 2)
}

func TestWebhookDedupeFailureStillQueues(t *testing.T) {
	queue := &recordingQueue{}
	h := NewWebhookHandler(WebhookConfig{Queue: queue, Dedupe: failingDedupe{}, Logger: logging.Discard()})

	rec := postWebhook(h, inboundPayload, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, queue.msgs, 2)
}

func TestWebhookAcknowledgesEnqueueFailure(t *testing.T) {
	queue := &recordingQueue{err: errors.New("queue full")}
	h := NewWebhookHandler(WebhookConfig{Queue: queue, Logger: logging.Discard()})

	rec := postWebhook(h, inboundPayload, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":2,"queued":0}`, rec.Body.String())
}

func TestWebhookSignature(t *testing.T) {
	queue := &recordingQueue{}
	h := NewWebhookHandler(WebhookConfig{Queue: queue, AppSecret: "s3cret", Logger: logging.Discard()})

	rec := postWebhook(h, inboundPayload, "sha256=00")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, queue.msgs)

	rec = postWebhook(h, inboundPayload, messaging.SignBody("s3cret", []byte(inboundPayload)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, queue.msgs, 2)
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	h := NewWebhookHandler(WebhookConfig{Queue: &recordingQueue{}, Logger: logging.Discard()})
	rec := postWebhook(h, "not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookVerify(t *testing.T) {
	h := NewWebhookHandler(WebhookConfig{Queue: &recordingQueue{}, VerifyToken: "tok", Logger: logging.Discard()})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/messages?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/webhooks/messages?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=42", nil)
	rec = httptest.NewRecorder()
	h.Verify(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
